package randstr

import (
	"crypto/rand"
	"math/big"
)

type Generator struct {
	letters []byte
	max     *big.Int
}

func New(letters []byte) *Generator {
	return &Generator{
		letters: letters,
		max:     big.NewInt(int64(len(letters))),
	}
}

func (g *Generator) GenerateRandomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, g.max)
		if err != nil {
			// crypto/rand never fails on supported platforms
			panic(err)
		}
		b[i] = g.letters[n.Int64()]
	}

	return string(b)
}
