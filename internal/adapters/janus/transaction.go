package janus

import "github.com/pion/randutil"

const (
	transactionLength = 30
	alphanumeric      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// NewTransaction returns a fresh random correlation token.
func NewTransaction() string {
	t, err := randutil.GenerateCryptoRandomString(transactionLength, alphanumeric)
	if err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return t
}
