package rediskey

import "fmt"

// Key conventions shared across services.
const (
	WalletLockPrefix = "lock:wallet"
	RunSeqPrefix     = "seq:payout_run"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// WalletLockKey returns "lock:wallet:{walletID}"
func WalletLockKey(walletID string) string {
	return NamespaceKey(WalletLockPrefix, walletID)
}

// RunSequenceKey returns "seq:payout_run:{yyyy}{mm}"
func RunSequenceKey(year, month int) string {
	return NamespaceKey(RunSeqPrefix, fmt.Sprintf("%04d%02d", year, month))
}
