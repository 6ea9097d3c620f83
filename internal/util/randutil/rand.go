package randutil

import (
	"crypto/rand"
	"math/big"

	"github.com/sirupsen/logrus"
)

// Paste ids are letters only so they survive being suffixed with a file
// extension (AbcDef.py).
const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// PasteID generates a cryptographically random paste id of length n.
func PasteID(n int) string {
	result := make([]byte, n)
	max := big.NewInt(int64(len(letters)))

	for i := range result {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			logrus.WithError(err).Error("crypto/rand failed")
			result[i] = letters[0]
			continue
		}
		result[i] = letters[num.Int64()]
	}
	return string(result)
}
