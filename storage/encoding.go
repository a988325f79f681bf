package storage

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/giantswarm/oidc-engine/message"
)

// FormatVersion is the current pending request encoding version.
const FormatVersion = 1

// Limits shared by EncodeRequest callers and DecodeRequest. A request within
// them always round-trips, and its encoding stays below the value size of the
// shared cache backends once sealed.
const (
	// MaxEncodedParameters bounds the number of stored parameters.
	MaxEncodedParameters = 1024

	// MaxEncodedStringLength bounds a single name or value, in bytes.
	MaxEncodedStringLength = 16 * 1024

	// MaxEncodedSize bounds the whole encoded request, in bytes.
	MaxEncodedSize = 60 * 1024
)

// EncodedSize returns the length of EncodeRequest(params).
func EncodedSize(params []message.Parameter) int {
	size := 8
	for _, p := range params {
		size += uvarintLen(len(p.Name)) + len(p.Name) + uvarintLen(len(p.Value)) + len(p.Value)
	}
	return size
}

// CheckRequestSize reports ErrRequestTooLarge when params exceed the limits
// DecodeRequest enforces. request_id entries are ignored since they are never
// stored.
func CheckRequestSize(params []message.Parameter) error {
	count, size := 0, 8
	for _, p := range params {
		if p.Name == message.ParamRequestID {
			continue
		}
		if len(p.Name) > MaxEncodedStringLength || len(p.Value) > MaxEncodedStringLength {
			return fmt.Errorf("%w: parameter %.32q exceeds %d bytes", ErrRequestTooLarge, p.Name, MaxEncodedStringLength)
		}
		count++
		size += EncodedSize([]message.Parameter{p}) - 8
	}
	if count > MaxEncodedParameters {
		return fmt.Errorf("%w: %d parameters, at most %d allowed", ErrRequestTooLarge, count, MaxEncodedParameters)
	}
	if size > MaxEncodedSize {
		return fmt.Errorf("%w: %d bytes encoded, at most %d allowed", ErrRequestTooLarge, size, MaxEncodedSize)
	}
	return nil
}

func uvarintLen(n int) int {
	var buf [binary.MaxVarintLen64]byte
	return binary.PutUvarint(buf[:], uint64(n))
}

// EncodeRequest serializes the parameters of a request.
//
// Layout: int32 version (little-endian), int32 count, then count (name, value)
// pairs. Each string is prefixed with its byte length as an unsigned varint.
func EncodeRequest(params []message.Parameter) []byte {
	buf := make([]byte, 0, EncodedSize(params))
	buf = binary.LittleEndian.AppendUint32(buf, FormatVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(params)))
	for _, p := range params {
		buf = appendString(buf, p.Name)
		buf = appendString(buf, p.Value)
	}
	return buf
}

// DecodeRequest parses a blob produced by EncodeRequest.
// A blob with another version yields ErrUnsupportedVersion; any structural
// problem yields ErrCorrupted.
func DecodeRequest(data []byte) ([]message.Parameter, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: payload too short", ErrCorrupted)
	}
	if len(data) > MaxEncodedSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrCorrupted, len(data), MaxEncodedSize)
	}

	version := int32(binary.LittleEndian.Uint32(data[0:4]))
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	count := int32(binary.LittleEndian.Uint32(data[4:8]))
	if count < 0 || count > MaxEncodedParameters {
		return nil, fmt.Errorf("%w: invalid parameter count %d", ErrCorrupted, count)
	}

	rest := data[8:]
	params := make([]message.Parameter, 0, count)
	for i := int32(0); i < count; i++ {
		var name, value string
		var err error
		if name, rest, err = readString(rest); err != nil {
			return nil, err
		}
		if value, rest, err = readString(rest); err != nil {
			return nil, err
		}
		params = append(params, message.Parameter{Name: name, Value: value})
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupted, len(rest))
	}
	return params, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(data []byte) (string, []byte, error) {
	n, size := binary.Uvarint(data)
	if size <= 0 {
		return "", nil, fmt.Errorf("%w: invalid length prefix", ErrCorrupted)
	}
	if n > MaxEncodedStringLength || n > uint64(len(data)-size) {
		return "", nil, fmt.Errorf("%w: string length %d out of range", ErrCorrupted, n)
	}
	end := size + int(n)
	s := string(data[size:end])
	if !utf8.ValidString(s) {
		return "", nil, fmt.Errorf("%w: invalid UTF-8", ErrCorrupted)
	}
	return s, data[end:], nil
}
