package routeros

import (
	"errors"
	"fmt"
	"io"
)

// The RouterOS API frames every word with a variable-length prefix: the top
// bits of the first byte say how many bytes encode the length. Sentences are
// word sequences terminated by a zero-length word.
//
//	0xxxxxxx                            len < 0x80
//	10xxxxxx + 1 byte                   len < 0x4000
//	110xxxxx + 2 bytes                  len < 0x200000
//	1110xxxx + 3 bytes                  len < 0x10000000
//	11110000 + 4 bytes                  anything else

const maxWordLen = 0xFFFFFF // sanity cap; no legitimate API word comes close

var errWordTooLong = errors.New("routeros: word exceeds maximum length")

// appendWord appends one length-prefixed word to buf.
func appendWord(buf []byte, word string) ([]byte, error) {
	n := len(word)
	switch {
	case n < 0x80:
		buf = append(buf, byte(n))
	case n < 0x4000:
		buf = append(buf, byte(n>>8)|0x80, byte(n))
	case n < 0x200000:
		buf = append(buf, byte(n>>16)|0xC0, byte(n>>8), byte(n))
	case n < 0x10000000:
		buf = append(buf, byte(n>>24)|0xE0, byte(n>>16), byte(n>>8), byte(n))
	default:
		return nil, errWordTooLong
	}
	return append(buf, word...), nil
}

// encodeSentence encodes the words of one sentence, including the
// zero-length terminator.
func encodeSentence(words []string) ([]byte, error) {
	var buf []byte
	var err error
	for _, word := range words {
		buf, err = appendWord(buf, word)
		if err != nil {
			return nil, err
		}
	}
	return append(buf, 0x00), nil
}

// readWordLen decodes one variable-length word length from r.
func readWordLen(r io.Reader) (int, error) {
	first, err := readByte(r)
	if err != nil {
		return 0, err
	}

	var n int
	var extra int
	switch {
	case first&0x80 == 0x00:
		return int(first), nil
	case first&0xC0 == 0x80:
		n, extra = int(first&^0x80), 1
	case first&0xE0 == 0xC0:
		n, extra = int(first&^0xC0), 2
	case first&0xF0 == 0xE0:
		n, extra = int(first&^0xE0), 3
	case first == 0xF0:
		n, extra = 0, 4
	default:
		return 0, fmt.Errorf("routeros: invalid length prefix 0x%02x", first)
	}

	for i := 0; i < extra; i++ {
		b, err := readByte(r)
		if err != nil {
			return 0, err
		}
		n = n<<8 | int(b)
	}
	if n > maxWordLen {
		return 0, fmt.Errorf("routeros: implausible word length %d", n)
	}
	return n, nil
}

// readSentence reads words until the zero-length terminator.
func readSentence(r io.Reader) ([]string, error) {
	var words []string
	for {
		n, err := readWordLen(r)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return words, nil
		}
		word := make([]byte, n)
		if _, err := io.ReadFull(r, word); err != nil {
			return nil, err
		}
		words = append(words, string(word))
	}
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
