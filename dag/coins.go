package dag

// Activation thresholds for the coins that switched algorithms mid-chain.
// Both are process-wide and overridable, mirroring how chains occasionally
// reschedule a fork before it activates.
const (
	defaultEtchashEpoch = 390 // ECIP-1099 activation epoch on ETC
	defaultUbqhashEpoch = 22  // UIP-1 activation epoch on UBQ
)

var (
	etchashEpoch uint64 = defaultEtchashEpoch
	ubqhashEpoch uint64 = defaultUbqhashEpoch
)

func GetEtchashEpoch() uint64      { return etchashEpoch }
func SetEtchashEpoch(epoch uint64) { etchashEpoch = epoch }

func GetUbqhashEpoch() uint64      { return ubqhashEpoch }
func SetUbqhashEpoch(epoch uint64) { ubqhashEpoch = epoch }

// A coinMapper turns a raw ethash epoch into the algorithm the coin actually
// runs at that height, together with the effective epoch for that algorithm.
type coinMapper func(epoch uint64) (Algorithm, uint64)

func mapETH(epoch uint64) (Algorithm, uint64) {
	return Ethash, epoch
}

func mapETC(epoch uint64) (Algorithm, uint64) {
	if epoch < etchashEpoch {
		return Ethash, epoch
	}
	// ECIP-1099 doubles the epoch length, halving the epoch number.
	return Etchash, epoch / 2
}

func mapUBQ(epoch uint64) (Algorithm, uint64) {
	if epoch < ubqhashEpoch {
		return Ethash, epoch
	}
	return Ubqhash, epoch
}

var coinMappers = map[string]coinMapper{
	"etc": mapETC,
	"ubq": mapUBQ,
}

// MapCoin resolves a coin tag and a raw epoch number to the (algorithm,
// effective epoch) pair governing that coin's DAG. Unknown tags map to plain
// ethash, which covers ETH, CLO, EXP and the other classic-epoch coins.
func MapCoin(coin string, epoch uint64) (Algorithm, uint64) {
	if mapper, ok := coinMappers[coin]; ok {
		return mapper(epoch)
	}
	return mapETH(epoch)
}
