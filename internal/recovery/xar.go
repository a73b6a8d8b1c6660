package recovery

import (
	"compress/zlib"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
)

// Installer packages are XAR archives: a fixed header, a zlib-compressed
// XML table of contents and a heap holding the file payloads at offsets
// recorded in the TOC.

var errNotXAR = errors.New("not a valid XAR archive")

type xarTOC struct {
	TOC struct {
		Files []xarFile `xml:"file"`
	} `xml:"toc"`
}

type xarFile struct {
	Name  string    `xml:"name"`
	Data  *xarData  `xml:"data"`
	Files []xarFile `xml:"file"`
}

type xarData struct {
	Offset int64 `xml:"offset"`
	Length int64 `xml:"length"`
}

// extractXAREntry copies a named top-level entry of a XAR archive into
// dest without unpacking the rest of the (multi-gigabyte) archive.
func extractXAREntry(archivePath string, entryName string, dest string) error {
	archive, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	heapOffset, entry, err := findXAREntry(archive, entryName)
	if err != nil {
		return err
	}

	output, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := archive.Seek(heapOffset+entry.Offset, io.SeekStart); err != nil {
		_ = output.Close()
		_ = os.Remove(dest)

		return err
	}

	if _, err := io.CopyN(output, archive, entry.Length); err != nil {
		_ = output.Close()
		_ = os.Remove(dest)

		return fmt.Errorf("failed to extract %s: %w", entryName, err)
	}

	return output.Close()
}

func findXAREntry(archive io.ReadSeeker, entryName string) (int64, *xarData, error) {
	// Header: magic, header size, version, compressed and uncompressed
	// TOC sizes (all big-endian).
	var header struct {
		Magic             [4]byte
		HeaderSize        uint16
		Version           uint16
		TOCCompressedSize uint64
		TOCLength         uint64
	}

	if err := binary.Read(archive, binary.BigEndian, &header); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errNotXAR, err)
	}
	if string(header.Magic[:]) != "xar!" {
		return 0, nil, errNotXAR
	}

	if _, err := archive.Seek(int64(header.HeaderSize), io.SeekStart); err != nil {
		return 0, nil, err
	}

	tocReader, err := zlib.NewReader(io.LimitReader(archive, int64(header.TOCCompressedSize)))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to decompress TOC: %v", errNotXAR, err)
	}
	tocXML, err := io.ReadAll(tocReader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to decompress TOC: %v", errNotXAR, err)
	}

	var toc xarTOC
	if err := xml.Unmarshal(tocXML, &toc); err != nil {
		return 0, nil, fmt.Errorf("%w: failed to parse TOC: %v", errNotXAR, err)
	}

	heapOffset := int64(header.HeaderSize) + int64(header.TOCCompressedSize)

	if entry := lookupXARFile(toc.TOC.Files, entryName); entry != nil {
		return heapOffset, entry, nil
	}

	return 0, nil, fmt.Errorf("%q not found inside the archive", entryName)
}

func lookupXARFile(files []xarFile, name string) *xarData {
	for _, file := range files {
		if file.Name == name && file.Data != nil {
			return file.Data
		}

		if entry := lookupXARFile(file.Files, name); entry != nil {
			return entry
		}
	}

	return nil
}
