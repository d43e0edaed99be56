package sdr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Format names an interleaved IQ sample encoding.
type Format string

const (
	FormatCU8  Format = "cu8"  // rtl-sdr: unsigned 8 bit, offset 127.5
	FormatCI8  Format = "ci8"  // hackrf: signed 8 bit
	FormatCI16 Format = "ci16" // signed 16 bit little endian
	FormatCF32 Format = "cf32" // float32 little endian
)

// BytesPerSample returns the size of one complex sample.
func (f Format) BytesPerSample() (int, error) {
	switch f {
	case FormatCU8, FormatCI8:
		return 2, nil
	case FormatCI16:
		return 4, nil
	case FormatCF32:
		return 8, nil
	}
	return 0, fmt.Errorf("unknown sample format %q", f)
}

// Decode converts raw interleaved samples into dst, which must hold
// len(raw)/BytesPerSample samples.
func (f Format) Decode(raw []byte, dst []complex64) error {
	size, err := f.BytesPerSample()
	if err != nil {
		return err
	}
	if len(raw) != len(dst)*size {
		return fmt.Errorf("%s: %d bytes do not hold %d samples", f, len(raw), len(dst))
	}
	switch f {
	case FormatCU8:
		for i := range dst {
			dst[i] = complex(
				(float32(raw[2*i])-127.5)/127.5,
				(float32(raw[2*i+1])-127.5)/127.5)
		}
	case FormatCI8:
		for i := range dst {
			dst[i] = complex(
				float32(int8(raw[2*i]))/128.0,
				float32(int8(raw[2*i+1]))/128.0)
		}
	case FormatCI16:
		for i := range dst {
			re := int16(binary.LittleEndian.Uint16(raw[4*i:]))
			im := int16(binary.LittleEndian.Uint16(raw[4*i+2:]))
			dst[i] = complex(float32(re)/32767.0, float32(im)/32767.0)
		}
	case FormatCF32:
		for i := range dst {
			re := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i+4:]))
			dst[i] = complex(re, im)
		}
	}
	return nil
}

// Encode appends samples to buf in the given format.
func (f Format) Encode(buf []byte, samples []complex64) ([]byte, error) {
	switch f {
	case FormatCU8:
		for _, s := range samples {
			buf = append(buf, toU8(real(s)), toU8(imag(s)))
		}
	case FormatCI8:
		for _, s := range samples {
			buf = append(buf, byte(toI8(real(s))), byte(toI8(imag(s))))
		}
	case FormatCI16:
		for _, s := range samples {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(toI16(real(s))))
			buf = binary.LittleEndian.AppendUint16(buf, uint16(toI16(imag(s))))
		}
	case FormatCF32:
		for _, s := range samples {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(real(s)))
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(imag(s)))
		}
	default:
		return buf, fmt.Errorf("unknown sample format %q", f)
	}
	return buf, nil
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toU8(v float32) byte {
	return byte(math.Round(float64(clamp(v*127.5+127.5, 0, 255))))
}

func toI8(v float32) int8 {
	return int8(math.Round(float64(clamp(v*128.0, -128, 127))))
}

func toI16(v float32) int16 {
	return int16(math.Round(float64(clamp(v*32767.0, -32767, 32767))))
}
