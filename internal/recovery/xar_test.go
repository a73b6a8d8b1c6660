package recovery

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildXAR assembles a minimal archive: a 28-byte header, a
// zlib-compressed TOC and a heap holding the payloads back to back.
func buildXAR(t *testing.T, entries map[string][]byte) string {
	t.Helper()

	const headerSize = 28

	var heap bytes.Buffer
	var tocEntries bytes.Buffer

	for name, payload := range entries {
		fmt.Fprintf(&tocEntries,
			"<file><name>%s</name><data><offset>%d</offset><length>%d</length></data></file>",
			name, heap.Len(), len(payload))
		heap.Write(payload)
	}

	tocXML := fmt.Sprintf("<xar><toc>%s</toc></xar>", tocEntries.String())

	var compressedTOC bytes.Buffer
	zlibWriter := zlib.NewWriter(&compressedTOC)
	_, err := zlibWriter.Write([]byte(tocXML))
	require.NoError(t, err)
	require.NoError(t, zlibWriter.Close())

	var archive bytes.Buffer
	archive.WriteString("xar!")
	require.NoError(t, binary.Write(&archive, binary.BigEndian, uint16(headerSize)))
	require.NoError(t, binary.Write(&archive, binary.BigEndian, uint16(1)))
	require.NoError(t, binary.Write(&archive, binary.BigEndian, uint64(compressedTOC.Len())))
	require.NoError(t, binary.Write(&archive, binary.BigEndian, uint64(len(tocXML))))
	// Checksum algorithm field, unused by the reader.
	require.NoError(t, binary.Write(&archive, binary.BigEndian, uint32(0)))
	archive.Write(compressedTOC.Bytes())
	archive.Write(heap.Bytes())

	path := filepath.Join(t.TempDir(), "installer.pkg")
	require.NoError(t, os.WriteFile(path, archive.Bytes(), 0o644))

	return path
}

func TestExtractXAREntry(t *testing.T) {
	payload := testBlob(4096)

	archivePath := buildXAR(t, map[string][]byte{
		"Distribution":      []byte("<installer-gui-script/>"),
		"SharedSupport.dmg": payload,
	})

	dest := filepath.Join(t.TempDir(), "SharedSupport.dmg")
	require.NoError(t, extractXAREntry(archivePath, "SharedSupport.dmg", dest))

	extracted, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, extracted)
}

func TestExtractXAREntryMissing(t *testing.T) {
	archivePath := buildXAR(t, map[string][]byte{
		"Distribution": []byte("<installer-gui-script/>"),
	})

	dest := filepath.Join(t.TempDir(), "SharedSupport.dmg")
	err := extractXAREntry(archivePath, "SharedSupport.dmg", dest)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
	require.NoFileExists(t, dest)
}

func TestExtractXAREntryBadMagic(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "installer.pkg")
	require.NoError(t, os.WriteFile(archivePath, []byte("definitely not an archive"), 0o644))

	err := extractXAREntry(archivePath, "SharedSupport.dmg", filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, errNotXAR)
}
