package wallet

import "github.com/vitos/crypto_auto_trader/internal/domain"

// EnvWallet carries the public identity from configuration. Signing is
// delegated to the swap backend; CanSign only reports whether a signing
// key was configured at all.
type EnvWallet struct {
	publicKey string
	hasKey    bool
}

func NewEnvWallet(publicKey string, hasSigningKey bool) *EnvWallet {
	return &EnvWallet{publicKey: publicKey, hasKey: hasSigningKey}
}

func (w *EnvWallet) PublicIdentity() string { return w.publicKey }

func (w *EnvWallet) CanSign() bool { return w.hasKey && w.publicKey != "" }

var _ domain.WalletService = (*EnvWallet)(nil)
