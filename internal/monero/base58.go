package monero

import (
	"errors"
	"math/bits"
	"strings"
)

// Monero encodes addresses with a block variant of base58: every 8 input
// bytes become exactly 11 symbols, so leading zeros and lengths survive.

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const (
	fullBlockSize        = 8
	fullEncodedBlockSize = 11
)

// encodedBlockSizes[n] is the encoded length of an n-byte block.
var encodedBlockSizes = [...]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

// decodedBlockSizes[n] is the decoded length of an n-symbol block, -1 when
// no block encodes to n symbols.
var decodedBlockSizes = [...]int{0, -1, 1, 2, -1, 3, 4, 5, -1, 6, 7, 8}

var (
	errBase58InvalidSymbol = errors.New("invalid symbol")
	errBase58Overflow      = errors.New("overflow")
	errBase58BlockSize     = errors.New("invalid block size")
)

var base58Index = func() [128]int8 {
	var table [128]int8
	for i := range table {
		table[i] = -1
	}
	for i := 0; i < len(base58Alphabet); i++ {
		table[base58Alphabet[i]] = int8(i)
	}
	return table
}()

// DecodeBase58 decodes a Monero block-base58 string.
func DecodeBase58(s string) ([]byte, error) {
	size := len(s)
	tail, err := decodedBlockSize(size % fullEncodedBlockSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, fullBlockSize*(size/fullEncodedBlockSize)+tail)
	for pos := 0; pos < size; pos += fullEncodedBlockSize {
		end := min(pos+fullEncodedBlockSize, size)
		out, err = decodeBlock(s[pos:end], out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodedBlockSize(n int) (int, error) {
	size := decodedBlockSizes[n]
	if size < 0 {
		return 0, errBase58BlockSize
	}
	return size, nil
}

func decodeBlock(block string, out []byte) ([]byte, error) {
	size, err := decodedBlockSize(len(block))
	if err != nil {
		return nil, err
	}

	var num uint64
	order := uint64(1)
	for i := len(block) - 1; i >= 0; i-- {
		c := block[i]
		if c >= 128 || base58Index[c] < 0 {
			return nil, errBase58InvalidSymbol
		}
		digit := uint64(base58Index[c])

		// 58^10 < 2^64 so order only overflows past the last symbol of a
		// full block, where it is no longer used.
		hi, prod := bits.Mul64(digit, order)
		if hi != 0 {
			return nil, errBase58Overflow
		}
		sum := num + prod
		if sum < num {
			return nil, errBase58Overflow
		}
		num = sum
		order *= 58
	}

	if size < fullBlockSize && num >= uint64(1)<<(8*size) {
		return nil, errBase58Overflow
	}

	out = append(out, make([]byte, size)...)
	blockOut := out[len(out)-size:]
	for i := size - 1; i >= 0; i-- {
		blockOut[i] = byte(num)
		num >>= 8
	}
	return out, nil
}

// EncodeBase58 encodes data with the Monero block-base58 scheme.
func EncodeBase58(data []byte) string {
	var sb strings.Builder
	for pos := 0; pos < len(data); pos += fullBlockSize {
		end := min(pos+fullBlockSize, len(data))
		encodeBlock(data[pos:end], &sb)
	}
	return sb.String()
}

func encodeBlock(block []byte, sb *strings.Builder) {
	var num uint64
	for _, b := range block {
		num = num<<8 | uint64(b)
	}

	size := encodedBlockSizes[len(block)]
	buf := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		buf[i] = base58Alphabet[num%58]
		num /= 58
	}
	sb.Write(buf)
}
