package merkle

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Bitmap holds one position bit per trade, least-significant bit first
// within each byte: bit i lives at byte i/8, mask 1<<(i%8).
type Bitmap []byte

// NewBitmap returns a zeroed bitmap able to hold n bits.
func NewBitmap(n int) Bitmap {
	return make(Bitmap, (n+7)/8)
}

// BitmapFromBools builds a bitmap from explicit positions.
func BitmapFromBools(bits []bool) Bitmap {
	b := NewBitmap(len(bits))
	for i, set := range bits {
		if set {
			b.Set(i)
		}
	}
	return b
}

// Set turns bit i on.
func (b Bitmap) Set(i int) {
	b[i/8] |= 1 << (uint(i) % 8)
}

// Bit reports bit i; out-of-range bits read as false.
func (b Bitmap) Bit(i int) bool {
	if i < 0 || i/8 >= len(b) {
		return false
	}
	return b[i/8]&(1<<(uint(i)%8)) != 0
}

// Len returns the number of addressable bits.
func (b Bitmap) Len() int {
	return len(b) * 8
}

// MarshalText encodes the bitmap as 0x-prefixed hex.
func (b Bitmap) MarshalText() ([]byte, error) {
	return hexutil.Bytes(b).MarshalText()
}

// UnmarshalText decodes 0x-prefixed hex.
func (b *Bitmap) UnmarshalText(input []byte) error {
	var raw hexutil.Bytes
	if err := raw.UnmarshalText(input); err != nil {
		return err
	}
	*b = Bitmap(raw)
	return nil
}
