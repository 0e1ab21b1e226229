package archive

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGzipRoundTrip(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly, many times over")
	compressed, err := Compress(data)
	require.NoError(t, err)
	assert.True(t, IsGzip(compressed))

	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressRejectsBadMagic(t *testing.T) {
	_, err := Decompress([]byte("not gzip"))
	assert.Error(t, err)
}

func TestStreamRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("stream-me "), 1000)
	var compressed bytes.Buffer
	require.NoError(t, StreamCompress(bytes.NewReader(data), &compressed))

	var out bytes.Buffer
	require.NoError(t, StreamDecompress(&compressed, &out))
	assert.Equal(t, data, out.Bytes())
}

func TestIntegrityRoundTrip(t *testing.T) {
	data := []byte("package contents")
	for _, algo := range []Algo{SHA1, SHA256, SHA512} {
		sri, err := Calculate(data, algo)
		require.NoError(t, err)
		assert.True(t, Verify(data, sri))
		assert.False(t, Verify([]byte("different contents"), sri))
	}
}

func TestStrongestPrefersSHA512(t *testing.T) {
	s1, _ := Calculate([]byte("x"), SHA1)
	s256, _ := Calculate([]byte("x"), SHA256)
	s512, _ := Calculate([]byte("x"), SHA512)
	combined := s1 + " " + s256 + " " + s512
	best, ok := Strongest(combined)
	require.True(t, ok)
	assert.Equal(t, SHA512, best.Algo)
}

func TestParseSkipsUnrecognizedTokens(t *testing.T) {
	comps := Parse("md5-deadbeef sha256-abc123==")
	require.Len(t, comps, 1)
	assert.Equal(t, SHA256, comps[0].Algo)
}

func TestTarRoundTripBasic(t *testing.T) {
	entries := []WriteEntry{
		{Name: "package/index.js", Type: TypeFile, Mode: 0o644, Content: []byte("module.exports = {}\n")},
		{Name: "package/lib/", Type: TypeDirectory, Mode: 0o755},
		{Name: "package/lib/helper.js", Type: TypeFile, Mode: 0o644, Content: []byte("exports.help = 1\n")},
	}
	data, err := WriteTar(entries)
	require.NoError(t, err)

	parsed, err := ParseTar(data, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	assert.Equal(t, "package/index.js", parsed[0].Name)
	assert.Equal(t, []byte("module.exports = {}\n"), parsed[0].Content)
	assert.Equal(t, TypeDirectory, parsed[1].Type)
	assert.Equal(t, "package/lib/helper.js", parsed[2].Name)
}

func TestTarRoundTripLongName(t *testing.T) {
	longName := "package/" + string(bytes.Repeat([]byte("a"), 150)) + "/file.js"
	entries := []WriteEntry{
		{Name: longName, Type: TypeFile, Mode: 0o644, Content: []byte("x")},
	}
	data, err := WriteTar(entries)
	require.NoError(t, err)

	parsed, err := ParseTar(data, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, longName, parsed[0].Name)
}

func TestTarRoundTripSymlink(t *testing.T) {
	entries := []WriteEntry{
		{Name: "package/link", Type: TypeSymlink, Mode: 0o777, Linkname: "./target"},
	}
	data, err := WriteTar(entries)
	require.NoError(t, err)

	parsed, err := ParseTar(data, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, TypeSymlink, parsed[0].Type)
	assert.Equal(t, "./target", parsed[0].Linkname)
}

func TestTarStreamParsingMatchesSliceParsing(t *testing.T) {
	entries := []WriteEntry{
		{Name: "a.txt", Type: TypeFile, Mode: 0o644, Content: []byte("aaa")},
		{Name: "b.txt", Type: TypeFile, Mode: 0o644, Content: []byte("bbb")},
	}
	data, err := WriteTar(entries)
	require.NoError(t, err)

	fromSlice, err := ParseTar(data, ParseOptions{})
	require.NoError(t, err)
	fromStream, err := ParseTarStream(bytes.NewReader(data), ParseOptions{})
	require.NoError(t, err)

	require.Equal(t, len(fromSlice), len(fromStream))
	for i := range fromSlice {
		assert.Equal(t, fromSlice[i].Name, fromStream[i].Name)
		assert.Equal(t, fromSlice[i].Content, fromStream[i].Content)
	}
}

func TestSecurityRejectsTraversal(t *testing.T) {
	cases := []string{"../../etc/passwd", "/etc/passwd", "a/../../b", "a/./b", "C:/windows"}
	for _, name := range cases {
		err := CheckSecurity(TarEntry{Name: name, Type: TypeFile})
		assert.Errorf(t, err, "expected rejection of %q", name)
	}
}

func TestSecurityAllowsNormalPaths(t *testing.T) {
	err := CheckSecurity(TarEntry{Name: "package/lib/index.js", Type: TypeFile})
	assert.NoError(t, err)
}

func TestSecurityRejectsSymlinkEscape(t *testing.T) {
	err := CheckSecurity(TarEntry{Name: "package/link", Type: TypeSymlink, Linkname: "../../../etc/passwd"})
	assert.Error(t, err)
}

func TestSecurityAllowsSymlinkWithinRoot(t *testing.T) {
	err := CheckSecurity(TarEntry{Name: "package/deep/nested/link", Type: TypeSymlink, Linkname: "../../other"})
	assert.NoError(t, err)
}

func TestInvalidChecksumBlockIsSkipped(t *testing.T) {
	entries := []WriteEntry{
		{Name: "good.txt", Type: TypeFile, Mode: 0o644, Content: []byte("ok")},
	}
	data, err := WriteTar(entries)
	require.NoError(t, err)

	// Corrupt one byte of the name field in the first header block without
	// fixing up the checksum, simulating a damaged archive.
	corrupted := append([]byte(nil), data...)
	corrupted[0] = 'Z'

	parsed, err := ParseTar(corrupted, ParseOptions{})
	require.NoError(t, err)
	assert.Empty(t, parsed, "single corrupted header should be skipped, not fatal")
}

func TestPaxLongNameRoundTrip(t *testing.T) {
	longName := string(bytes.Repeat([]byte("p"), 200))
	entries := []WriteEntry{
		{Name: longName, Type: TypeFile, Mode: 0o644, Content: []byte("payload")},
	}
	data, err := WriteTar(entries)
	require.NoError(t, err)
	parsed, err := ParseTar(data, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, longName, parsed[0].Name)
	assert.Equal(t, []byte("payload"), parsed[0].Content)
}
