// Package encoding holds compact text encodings for cell codes.
package encoding

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeRLE packs codes as uvarint (code, run) pairs and returns them base64
// encoded. Runs never exceed maxRun.
func EncodeRLE(codes []uint32) string {
	var raw []byte
	for len(codes) > 0 {
		run := runLength(codes)
		raw = binary.AppendUvarint(raw, uint64(codes[0]))
		raw = binary.AppendUvarint(raw, uint64(run))
		codes = codes[run:]
	}
	return base64.StdEncoding.EncodeToString(raw)
}

const maxRun = 1<<31 - 1

func runLength(codes []uint32) int {
	n := 1
	for n < len(codes) && n < maxRun && codes[n] == codes[0] {
		n++
	}
	return n
}

// DecodeRLE reverses EncodeRLE.
func DecodeRLE(b64 string) ([]uint32, error) {
	return decode(b64, -1)
}

// DecodeRLEN is DecodeRLE for a stream that must expand to exactly want
// codes. It stops early instead of expanding an oversized run.
func DecodeRLEN(b64 string, want int) ([]uint32, error) {
	if want < 0 {
		return nil, fmt.Errorf("negative length %d", want)
	}
	out, err := decode(b64, want)
	if err != nil {
		return nil, err
	}
	if len(out) != want {
		return nil, fmt.Errorf("decoded %d codes, want %d", len(out), want)
	}
	return out, nil
}

func decode(b64 string, limit int) ([]uint32, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint32
	if limit > 0 {
		out = make([]uint32, 0, limit)
	}
	for i := 0; i < len(raw); {
		c, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if c > 0xFFFFFFFF {
			return nil, fmt.Errorf("cell code too large: %d", c)
		}
		if run == 0 {
			return nil, fmt.Errorf("empty run at %d", i)
		}
		if limit >= 0 && uint64(len(out))+run > uint64(limit) {
			return nil, fmt.Errorf("run of %d overflows length %d", run, limit)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint32(c))
		}
	}
	return out, nil
}
