package archive

import (
	"bytes"
	"strconv"
)

// maxUSTARSize is the largest size representable in the 12-byte octal
// size field (8 589 934 591 = 8^11 - 1).
const maxUSTARSize = 8589934591

// WriteEntry is the input shape for emitting one tar entry: either a
// regular file (Content), a directory (Content nil, trailing slash name),
// or a symlink (Linkname set).
type WriteEntry struct {
	Name     string
	Type     EntryType
	Mode     int64
	UID      int64
	GID      int64
	Mtime    int64
	Content  []byte
	Linkname string
}

// WriteTar emits a complete tar byte stream (not gzip-wrapped) for the
// given entries, terminated by two null blocks.
func WriteTar(entries []WriteEntry) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		if err := writeEntry(&buf, e); err != nil {
			return nil, err
		}
	}
	buf.Write(make([]byte, blockSize*2))
	return buf.Bytes(), nil
}

func writeEntry(buf *bytes.Buffer, e WriteEntry) error {
	size := int64(len(e.Content))
	if e.Type == TypeDirectory {
		size = 0
	}

	name := e.Name
	prefix := ""
	needsPax := size > maxUSTARSize

	if len(name) > 100 {
		p, n, ok := splitUSTARPrefix(name)
		if ok {
			prefix, name = p, n
		} else {
			needsPax = true
		}
	}

	if needsPax {
		writePaxExtendedHeader(buf, e, size)
		// The USTAR header that follows may carry a truncated name; a
		// PAX "path" record is authoritative for readers that honor it.
		if len(e.Name) > 100 {
			if p, n, ok := splitUSTARPrefix(e.Name); ok {
				prefix, name = p, n
			} else {
				name = truncate(e.Name, 100)
				prefix = ""
			}
		}
	}

	header := make([]byte, blockSize)
	putString(header[0:100], name)
	putOctal(header[100:108], e.Mode, 7)
	putOctal(header[108:116], e.UID, 7)
	putOctal(header[116:124], e.GID, 7)
	if size > maxUSTARSize {
		putBinary(header[124:136], size)
	} else {
		putOctal(header[124:136], size, 11)
	}
	putOctal(header[136:148], e.Mtime, 11)
	for i := 148; i < 156; i++ {
		header[i] = ' '
	}
	header[156] = typeToFlag(e.Type)
	putString(header[157:257], e.Linkname)
	copy(header[257:265], ustarMagic[:])
	putString(header[265:297], "")
	putString(header[297:329], "")
	putString(header[345:500], prefix)

	sum := checksum(header)
	putOctalChecksum(header[148:156], sum)

	buf.Write(header)
	if e.Type != TypeDirectory && len(e.Content) > 0 {
		buf.Write(e.Content)
		if pad := roundUp512(size) - size; pad > 0 {
			buf.Write(make([]byte, pad))
		}
	}
	return nil
}

func typeToFlag(t EntryType) byte {
	switch t {
	case TypeFile:
		return '0'
	case TypeHardlink:
		return '1'
	case TypeSymlink:
		return '2'
	case TypeCharDevice:
		return '3'
	case TypeBlockDevice:
		return '4'
	case TypeDirectory:
		return '5'
	case TypeFifo:
		return '6'
	case TypeContiguous:
		return '7'
	default:
		return '0'
	}
}

// splitUSTARPrefix splits name at a '/' such that prefix <= 155 bytes and
// the remaining name <= 100 bytes, preferring the split closest to name's
// end (USTAR semantics: prefix/name join with "/").
func splitUSTARPrefix(name string) (prefix, base string, ok bool) {
	if len(name) <= 100 {
		return "", name, true
	}
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] != '/' {
			continue
		}
		p, n := name[:i], name[i+1:]
		if len(p) <= 155 && len(n) <= 100 {
			return p, n, true
		}
	}
	return "", "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func putString(dst []byte, s string) {
	n := copy(dst, s)
	_ = n
}

func putOctal(dst []byte, v int64, digits int) {
	if v < 0 {
		v = 0
	}
	s := strconv.FormatInt(v, 8)
	for len(s) < digits {
		s = "0" + s
	}
	if len(s) > digits {
		s = s[len(s)-digits:]
	}
	copy(dst, s)
	dst[len(dst)-1] = 0
}

func putOctalChecksum(dst []byte, v int64) {
	s := strconv.FormatInt(v, 8)
	for len(s) < 6 {
		s = "0" + s
	}
	copy(dst, s)
	dst[6] = 0
	dst[7] = ' '
}

func putBinary(dst []byte, v int64) {
	dst[0] = 0x80
	for i := len(dst) - 1; i >= 1; i-- {
		dst[i] = byte(v & 0xFF)
		v >>= 8
	}
}

// writePaxExtendedHeader writes the 'x' typeflag header plus its record
// body immediately before the real entry's (possibly truncated) header.
func writePaxExtendedHeader(buf *bytes.Buffer, e WriteEntry, size int64) {
	records := map[string]string{"path": e.Name}
	if size > maxUSTARSize {
		records["size"] = strconv.FormatInt(size, 10)
	}
	if e.Linkname != "" {
		records["linkpath"] = e.Linkname
	}

	var body bytes.Buffer
	for _, key := range sortedKeys(records) {
		body.WriteString(buildPaxRecord(key, records[key]))
	}
	content := body.Bytes()

	header := make([]byte, blockSize)
	name := "PaxHeaders.0/" + truncate(e.Name, 86)
	putString(header[0:100], name)
	putOctal(header[100:108], 0o644, 7)
	putOctal(header[108:116], 0, 7)
	putOctal(header[116:124], 0, 7)
	putOctal(header[124:136], int64(len(content)), 11)
	putOctal(header[136:148], 0, 11)
	for i := 148; i < 156; i++ {
		header[i] = ' '
	}
	header[156] = 'x'
	copy(header[257:265], ustarMagic[:])
	sum := checksum(header)
	putOctalChecksum(header[148:156], sum)

	buf.Write(header)
	buf.Write(content)
	if pad := roundUp512(int64(len(content))) - int64(len(content)); pad > 0 {
		buf.Write(make([]byte, pad))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// buildPaxRecord builds "<len> <key>=<value>\n" with the fixpoint length
// calculation of §4.2: the length field must include its own digit count.
func buildPaxRecord(key, value string) string {
	payload := key + "=" + value + "\n"
	// lower bound: smallest possible length field (1 digit) + space + payload
	length := len(payload) + 2
	for {
		newLen := len(strconv.Itoa(length)) + 1 + len(payload)
		if newLen == length {
			break
		}
		length = newLen
	}
	return strconv.Itoa(length) + " " + payload
}
