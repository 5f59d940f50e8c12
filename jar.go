package apkparser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/avast/bytecodescan/javaclass"
)

// JarEntry is one decoded .class member of a jar, or the error from
// decoding it: a single bad entry never aborts the archive scan.
type JarEntry struct {
	Name  string
	Class *javaclass.ClassFile
	Err   error
}

// ParseJarWithZip decodes every ZIP entry ending in ".class". Entries
// that fail to parse are still reported, with Err set and Class nil, so
// a caller can enumerate the rest of a partially-malformed jar.
func ParseJarWithZip(zip *ZipReader) ([]JarEntry, error) {
	names := make([]string, 0, len(zip.File))
	for name := range zip.File {
		if strings.HasSuffix(name, ".class") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]JarEntry, 0, len(names))
	for _, name := range names {
		entry := JarEntry{Name: name}
		entry.Class, entry.Err = parseOneClassEntry(zip.File[name])
		out = append(out, entry)
	}
	return out, nil
}

func parseOneClassEntry(file *ZipReaderFile) (cf *javaclass.ClassFile, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	data, err := file.ReadAll(maxEntrySizeHint)
	if err != nil {
		return nil, err
	}
	return javaclass.ParseClassFile(data)
}
