package archive

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/npmcore/npmcore/internal/npmerr"
)

const blockSize = 512

// EntryType is the typeflag classification of a tar entry.
type EntryType string

const (
	TypeFile        EntryType = "file"
	TypeDirectory   EntryType = "directory"
	TypeSymlink     EntryType = "symlink"
	TypeHardlink    EntryType = "hardlink"
	TypeCharDevice  EntryType = "char-device"
	TypeBlockDevice EntryType = "block-device"
	TypeFifo        EntryType = "fifo"
	TypeContiguous  EntryType = "contiguous"
	TypePaxExtended EntryType = "pax-extended"
	TypePaxGlobal   EntryType = "pax-global"
	TypeGNULongName EntryType = "gnu-longname"
	TypeGNULongLink EntryType = "gnu-longlink"
	TypeUnknown     EntryType = "unknown"
)

// TarEntry is one logical entry yielded by the tar parser, after PAX/GNU
// overrides have been folded in. Metadata-only entries (pax-extended,
// pax-global, gnu-longname, gnu-longlink) are never yielded; they are
// consumed internally to build the overrides applied to the next entry.
type TarEntry struct {
	Name     string
	Type     EntryType
	Mode     int64
	UID      int64
	GID      int64
	Size     int64
	Mtime    float64 // seconds since epoch, sub-second precision from PAX
	Content  []byte
	Linkname string
	Sparse   bool
}

// format is the detected header dialect, used only to decide how to read
// the name/prefix fields; typeflag semantics are uniform across dialects.
type format int

const (
	formatUnknown format = iota
	formatV7
	formatUSTAR
	formatGNU
)

var ustarMagic = [8]byte{'u', 's', 't', 'a', 'r', 0, '0', '0'}
var gnuMagic = [8]byte{'u', 's', 't', 'a', 'r', ' ', ' ', 0}

// ParseOptions controls tar parsing behavior.
type ParseOptions struct {
	// Secure enables the path-traversal / symlink-escape checks of §4.2.
	Secure bool
}

// ParseTar parses a full in-memory tar byte stream (not gzip-wrapped).
// Entry Content slices borrow from data; callers must not mutate data
// while holding the returned entries.
func ParseTar(data []byte, opts ParseOptions) ([]TarEntry, error) {
	return parseBlocks(&sliceSource{data: data}, opts)
}

// ParseTarStream parses a tar byte stream read incrementally from r.
// Returned entries own their Content (copied out of the reader).
func ParseTarStream(r io.Reader, opts ParseOptions) ([]TarEntry, error) {
	return parseBlocks(&readerSource{r: r}, opts)
}

// blockSource abstracts pulling fixed-size blocks either from an in-memory
// slice (borrowing) or an io.Reader (copying), so the header/PAX/GNU state
// machine in parseBlocks is written exactly once.
type blockSource interface {
	// nextBlock returns the next 512-byte block, or ok=false at a clean EOF.
	nextBlock() (block []byte, ok bool, err error)
	// readContent returns size bytes of entry content, advancing past the
	// size rounded up to the next block boundary.
	readContent(size int64) ([]byte, error)
}

type sliceSource struct {
	data []byte
	pos  int64
}

func (s *sliceSource) nextBlock() ([]byte, bool, error) {
	if s.pos+blockSize > int64(len(s.data)) {
		if s.pos >= int64(len(s.data)) {
			return nil, false, nil
		}
		return nil, false, npmerr.New(npmerr.ETarball, "truncated tar header block")
	}
	b := s.data[s.pos : s.pos+blockSize]
	s.pos += blockSize
	return b, true, nil
}

func (s *sliceSource) readContent(size int64) ([]byte, error) {
	if size < 0 {
		return nil, npmerr.New(npmerr.ETarball, "negative entry size")
	}
	padded := roundUp512(size)
	if s.pos+padded > int64(len(s.data)) {
		return nil, npmerr.New(npmerr.ETarball, "truncated tar content")
	}
	content := s.data[s.pos : s.pos+size]
	s.pos += padded
	return content, nil
}

type readerSource struct {
	r   io.Reader
	eof bool
}

func (s *readerSource) nextBlock() ([]byte, bool, error) {
	buf := make([]byte, blockSize)
	n, err := io.ReadFull(s.r, buf)
	if err == io.EOF && n == 0 {
		return nil, false, nil
	}
	if err == io.ErrUnexpectedEOF {
		return nil, false, npmerr.New(npmerr.ETarball, "truncated tar header block")
	}
	if err != nil && err != io.EOF {
		return nil, false, npmerr.Wrap(err, npmerr.ETarball)
	}
	return buf, true, nil
}

func (s *readerSource) readContent(size int64) ([]byte, error) {
	if size < 0 {
		return nil, npmerr.New(npmerr.ETarball, "negative entry size")
	}
	padded := roundUp512(size)
	buf := make([]byte, padded)
	if padded > 0 {
		if _, err := io.ReadFull(s.r, buf); err != nil {
			return nil, npmerr.New(npmerr.ETarball, "truncated tar content: %v", err)
		}
	}
	return buf[:size:size], nil
}

func roundUp512(n int64) int64 {
	if rem := n % blockSize; rem != 0 {
		return n + (blockSize - rem)
	}
	return n
}

// rawHeader is the decoded-but-unmerged content of one 512-byte header
// block, before PAX/GNU overrides are folded in.
type rawHeader struct {
	name     string
	mode     int64
	uid      int64
	gid      int64
	size     int64
	mtime    int64
	typeflag byte
	linkname string
	prefix   string
	format   format
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func parseBlocks(src blockSource, opts ParseOptions) ([]TarEntry, error) {
	var entries []TarEntry
	var paxOverrides map[string]string
	var gnuLongName, gnuLongLink string

	resetOverrides := func() {
		paxOverrides = nil
		gnuLongName = ""
		gnuLongLink = ""
	}

	for {
		block, ok, err := src.nextBlock()
		if err != nil {
			return entries, err
		}
		if !ok {
			break
		}

		if isZeroBlock(block) {
			next, ok2, err2 := src.nextBlock()
			if err2 != nil {
				return entries, err2
			}
			if !ok2 || isZeroBlock(next) {
				break // end of archive
			}
			// Lone null block not at the true end: treat as padding, keep
			// going with the block we just peeked.
			block = next
		}

		hdr, sum, ok := parseHeaderBlock(block)
		if !ok {
			// Invalid checksum: skip this single block and continue,
			// per §4.2's "parsers MUST skip an invalid single block".
			_ = sum
			continue
		}

		fullName := hdr.name
		if hdr.prefix != "" {
			fullName = hdr.prefix + "/" + hdr.name
		}

		entryType := typeflagToType(hdr.typeflag, fullName)

		switch entryType {
		case TypePaxExtended, TypePaxGlobal:
			content, err := src.readContent(hdr.size)
			if err != nil {
				return entries, err
			}
			records, err := parsePaxRecords(content)
			if err != nil {
				return entries, err
			}
			if entryType == TypePaxExtended {
				if paxOverrides == nil {
					paxOverrides = make(map[string]string)
				}
				for k, v := range records {
					paxOverrides[k] = v
				}
			}
			continue
		case TypeGNULongName, TypeGNULongLink:
			content, err := src.readContent(hdr.size)
			if err != nil {
				return entries, err
			}
			name := string(bytes.TrimRight(content, "\x00"))
			if entryType == TypeGNULongName {
				gnuLongName = name
			} else {
				gnuLongLink = name
			}
			continue
		}

		content, err := src.readContent(effectiveSize(hdr, paxOverrides))
		if err != nil {
			return entries, err
		}

		entry := TarEntry{
			Name:     resolveName(fullName, gnuLongName, paxOverrides),
			Type:     entryType,
			Mode:     hdr.mode,
			UID:      effectiveInt(hdr.uid, "uid", paxOverrides),
			GID:      effectiveInt(hdr.gid, "gid", paxOverrides),
			Size:     effectiveSize(hdr, paxOverrides),
			Mtime:    effectiveFloat(float64(hdr.mtime), "mtime", paxOverrides),
			Content:  content,
			Linkname: resolveLinkname(hdr.linkname, gnuLongLink, paxOverrides),
		}

		if opts.Secure {
			if err := CheckSecurity(entry); err != nil {
				return entries, err
			}
		}

		entries = append(entries, entry)
		resetOverrides()
	}

	return entries, nil
}

func resolveName(fullName, gnuLongName string, pax map[string]string) string {
	if gnuLongName != "" {
		return gnuLongName
	}
	if pax != nil {
		if v, ok := pax["path"]; ok {
			return v
		}
	}
	return fullName
}

func resolveLinkname(headerLinkname, gnuLongLink string, pax map[string]string) string {
	if gnuLongLink != "" {
		return gnuLongLink
	}
	if pax != nil {
		if v, ok := pax["linkpath"]; ok {
			return v
		}
	}
	return headerLinkname
}

func effectiveSize(hdr rawHeader, pax map[string]string) int64 {
	if pax != nil {
		if v, ok := pax["size"]; ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return hdr.size
}

func effectiveInt(base int64, key string, pax map[string]string) int64 {
	if pax != nil {
		if v, ok := pax[key]; ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return base
}

func effectiveFloat(base float64, key string, pax map[string]string) float64 {
	if pax != nil {
		if v, ok := pax[key]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return base
}

func typeflagToType(flag byte, name string) EntryType {
	switch flag {
	case '0', 0:
		return TypeFile
	case '1':
		return TypeHardlink
	case '2':
		return TypeSymlink
	case '3':
		return TypeCharDevice
	case '4':
		return TypeBlockDevice
	case '5':
		return TypeDirectory
	case '6':
		return TypeFifo
	case '7':
		return TypeContiguous
	case 'x':
		return TypePaxExtended
	case 'g':
		return TypePaxGlobal
	case 'L':
		return TypeGNULongName
	case 'K':
		return TypeGNULongLink
	default:
		if name != "" {
			return TypeFile
		}
		return TypeUnknown
	}
}

// parseHeaderBlock decodes one 512-byte header block. ok is false when the
// checksum does not match (caller must skip exactly this block).
func parseHeaderBlock(b []byte) (rawHeader, int64, bool) {
	var hdr rawHeader

	chksumField := b[148:156]
	parsedSum, err := parseOctalOrBinary(chksumField)
	if err != nil {
		return hdr, 0, false
	}

	computed := checksum(b)
	if computed != parsedSum {
		// Some writers also accept the signed-byte checksum variant; try
		// that before declaring the block invalid.
		if computed != signedChecksum(b) {
			return hdr, parsedSum, false
		}
	}

	hdr.name = cString(b[0:100])
	hdr.mode, _ = parseOctalOrBinary(b[100:108])
	hdr.uid, _ = parseOctalOrBinary(b[108:116])
	hdr.gid, _ = parseOctalOrBinary(b[116:124])
	hdr.size, _ = parseOctalOrBinary(b[124:136])
	hdr.mtime, _ = parseOctalOrBinary(b[136:148])
	hdr.typeflag = b[156]
	hdr.linkname = cString(b[157:257])

	var magic [8]byte
	copy(magic[:], b[257:265])
	switch {
	case magic == ustarMagic:
		hdr.format = formatUSTAR
		hdr.prefix = cString(b[345:500])
	case magic == gnuMagic:
		hdr.format = formatGNU
	default:
		if hdr.name != "" {
			hdr.format = formatV7
		} else {
			hdr.format = formatUnknown
		}
	}

	return hdr, parsedSum, true
}

// checksum sums all 512 bytes treating the checksum field as spaces.
func checksum(b []byte) int64 {
	var sum int64
	for i, c := range b {
		if i >= 148 && i < 156 {
			sum += int64(' ')
		} else {
			sum += int64(c)
		}
	}
	return sum
}

// signedChecksum matches tar implementations (notably old Solaris/BSD tar)
// that summed the checksum field's bytes as signed chars.
func signedChecksum(b []byte) int64 {
	var sum int64
	for i, c := range b {
		if i >= 148 && i < 156 {
			sum += int64(' ')
		} else {
			sum += int64(int8(c))
		}
	}
	return sum
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), " ")
}

// parseOctalOrBinary parses an ASCII octal numeric field, or, when the
// leading byte has its high bit set (0x80), a GNU base-256 big-endian
// binary encoding used for values exceeding the 11-octal-digit range.
func parseOctalOrBinary(b []byte) (int64, error) {
	if len(b) > 0 && b[0]&0x80 != 0 {
		var v int64
		v = int64(b[0] & 0x7F)
		for _, c := range b[1:] {
			v = v<<8 | int64(c)
		}
		return v, nil
	}
	s := strings.TrimRight(strings.TrimLeft(string(b), " "), " \x00")
	s = strings.TrimRight(s, "\x00")
	if s == "" {
		return 0, nil
	}
	var v int64
	for _, c := range []byte(s) {
		if c < '0' || c > '7' {
			return 0, npmerr.New(npmerr.ETarball, "malformed octal field %q", s)
		}
		v = v*8 + int64(c-'0')
	}
	return v, nil
}

// parsePaxRecords decodes the "<len> <key>=<value>\n" records of a PAX
// extended header block.
func parsePaxRecords(content []byte) (map[string]string, error) {
	records := make(map[string]string)
	for len(content) > 0 {
		sp := bytes.IndexByte(content, ' ')
		if sp < 0 {
			break
		}
		n, err := strconv.Atoi(string(content[:sp]))
		if err != nil || n <= 0 || n > len(content) {
			return nil, npmerr.New(npmerr.EParse, "malformed PAX record length")
		}
		record := content[:n]
		rest := record[sp+1:]
		if len(rest) == 0 || rest[len(rest)-1] != '\n' {
			return nil, npmerr.New(npmerr.EParse, "malformed PAX record: missing trailing newline")
		}
		rest = rest[:len(rest)-1]
		eq := bytes.IndexByte(rest, '=')
		if eq < 0 {
			return nil, npmerr.New(npmerr.EParse, "malformed PAX record: missing '='")
		}
		key := string(rest[:eq])
		value := string(rest[eq+1:])
		records[key] = value
		content = content[n:]
	}
	return records, nil
}
