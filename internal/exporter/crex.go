package exporter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/arpa-simc/provami/internal/dballe"
)

const crexEOL = "\r\r\n"

func encodeCREXValue(it item) (string, error) {
	info := it.info
	width := info.Len
	if width <= 0 {
		width = 1
	}
	if it.value == nil {
		return strings.Repeat("/", width), nil
	}
	if info.Type() == dballe.TypeString {
		s, err := info.Coerce(it.value)
		if err != nil {
			return "", err
		}
		text := s.(string)
		if len(text) > width {
			text = text[:width]
		}
		return fmt.Sprintf("%-*s", width, text), nil
	}

	v, _, err := scaled(info, it.value)
	if err != nil {
		return "", err
	}
	digits := strconv.FormatInt(abs(v), 10)
	if len(digits) > width {
		return "", fmt.Errorf("%s: value %v does not fit in %d digits", info.Code, it.value, width)
	}
	digits = strings.Repeat("0", width-len(digits)) + digits
	if v < 0 {
		digits = "-" + digits
	}
	return digits, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// EncodeCREX encodes a message as a CREX text message.
func EncodeCREX(msg *dballe.Message) ([]byte, error) {
	items, err := template(msg)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteString("CREX++" + crexEOL)

	// Section 1: table versions, data category and descriptors
	fmt.Fprintf(&out, "T%02d%02d%02d A%03d", 0, 1, 3, bufrCategory)
	for _, it := range items {
		out.WriteByte(' ')
		out.WriteString(it.info.Code)
	}
	out.WriteString("++" + crexEOL)

	// Section 2: values
	for i, it := range items {
		s, err := encodeCREXValue(it)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(s)
	}
	out.WriteString("++" + crexEOL)

	out.WriteString("7777" + crexEOL)
	return out.Bytes(), nil
}
