// Package names implements the name codec the specification's §4.6
// describes: OEM/Unicode conversion for short (8.3) names, UTF-8/UTF-16
// conversion and up-casing for long names and exFAT names, the LFN checksum,
// and short-name generation
// (including the numeric-tail collision scheme) for names that don't fit in
// 8.3 form.
//
// OEM codepage translation is grounded on golang.org/x/text/encoding/charmap
// (the teacher's go.mod already lists golang.org/x/text; this is the module
// that uses it). UTF-16 byte-level conversion goes through
// golang.org/x/text/encoding/unicode, which validates surrogate pairs and
// rejects ill-formed sequences instead of silently replacing them the way
// unicode/utf16 does on its own; code-unit-level packing into 13-unit LFN
// fragments still uses unicode/utf16 from the standard library, since that's
// a structural detail of the on-disk format, not a codepage concern.
package names

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

// OEMCodepage is the active 8-bit codepage used to translate short names to
// and from Unicode. DOS/Windows code page 437 (the original IBM PC OEM
// charset) is the default most FAT volumes in the wild use; [SetOEMCodepage]
// changes it to model the specification's f_setcp operation.
var OEMCodepage = charmap.CodePage437

// SetOEMCodepage implements the specification's setcp operation: it changes
// the codepage used by [OEMToUnicode] and [UnicodeToOEM] for the lifetime of
// the process. FAT mounts don't keep a private codepage table, matching
// FatFs's single compiled-in `_CODE_PAGE`/runtime `f_setcp` (see
// original_source/source/ff.c), so this is volume-global rather than a field
// on a particular mount.
func SetOEMCodepage(cm *charmap.Charmap) {
	OEMCodepage = cm
}

// OEMToUnicode decodes raw OEM-codepage bytes (as stored in a short
// directory entry) into a Unicode string.
func OEMToUnicode(raw []byte) (string, error) {
	return OEMCodepage.NewDecoder().String(string(raw))
}

// UnicodeToOEM encodes a Unicode string into the active OEM codepage, for
// storing in a short directory entry's Name/Extension fields. It fails if
// the string contains characters with no representation in the codepage.
func UnicodeToOEM(s string) ([]byte, error) {
	encoded, err := OEMCodepage.NewEncoder().String(s)
	if err != nil {
		return nil, fmt.Errorf("character has no OEM codepage representation: %w", err)
	}
	return []byte(encoded), nil
}

var utf16LE = xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM)

// EncodeUTF16LE converts a Go string into little-endian UTF-16 bytes, the
// encoding exFAT and LFN entries store names in. Unlike bare
// unicode/utf16.Encode, this path validates the input and fails on
// ill-formed sequences instead of emitting the Unicode replacement
// character (per the specification's §4.6 "ill-formed sequences fail the
// operation" requirement).
func EncodeUTF16LE(s string) ([]byte, error) {
	return utf16LE.NewEncoder().Bytes([]byte(s))
}

// DecodeUTF16LE is the inverse of [EncodeUTF16LE].
func DecodeUTF16LE(b []byte) (string, error) {
	out, err := utf16LE.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ToUpperUnicode up-cases a string using the simplified, single-table
// up-case mapping the specification allows in place of exFAT's full 128K
// up-case table (§4.6: "exFAT full table optional"). strings.ToUpper already
// implements a 1:1, locale-independent case fold for every code point that
// has one, which is sufficient for name comparison and hashing purposes;
// the handful of code points with context-dependent casing (e.g. Turkish
// dotless i) aren't expected to appear in disk image names produced by this
// driver's own format/create paths.
func ToUpperUnicode(s string) string {
	return strings.ToUpper(s)
}

// lfnChecksumByte runs one byte through the LFN checksum's "rotate right by
// one bit, then add" recurrence, for [ShortNameChecksum].
func lfnChecksumByte(sum byte, b byte) byte {
	var carry byte
	if sum&1 != 0 {
		carry = 0x80
	}
	return carry + (sum >> 1) + b
}

// ShortNameChecksum computes the LFN checksum of an 11-byte 8.3 short name
// (the concatenation of its Name and Extension fields, space-padded), used
// both to tag LFN fragment entries and to verify, on lookup, that LFN
// fragments actually belong to the short entry they precede.
func ShortNameChecksum(shortName [11]byte) byte {
	var sum byte
	for _, b := range shortName {
		sum = lfnChecksumByte(sum, b)
	}
	return sum
}

// UTF16Units splits a Unicode string into UTF-16 code units, for packing
// into LFN/exFAT name fragments.
func UTF16Units(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

// UnitsToString is the inverse of [UTF16Units].
func UnitsToString(units []uint16) string {
	return string(utf16.Decode(units))
}

// invalidNameChars are the codepoints the specification (§4.6) disallows in
// any name, short or long: the handful of characters that double as path
// separators or wildcards, plus the ones FAT/exFAT's own grammar reserves.
const invalidNameChars = `"*/:<>?\|`

// IsValidNameChar reports whether `r` is allowed to appear in a file or
// directory name.
func IsValidNameChar(r rune) bool {
	if r < 0x20 {
		return false
	}
	return !strings.ContainsRune(invalidNameChars, r)
}

// ValidateLongName checks a proposed long name against the specification's
// length and character rules (up to 255 UTF-16 code units, no reserved
// characters, no control characters).
func ValidateLongName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(UTF16Units(name)) > 255 {
		return fmt.Errorf("name %q exceeds 255 UTF-16 code units", name)
	}
	for _, r := range name {
		if !IsValidNameChar(r) {
			return fmt.Errorf("name %q contains disallowed character %q", name, r)
		}
	}
	return nil
}

// splitBaseExt splits a long name into an 8.3-shaped base/extension pair,
// uppercased and stripped of characters the short-name grammar disallows.
// This does not check for uniqueness; see [GenerateShortName] for that.
func splitBaseExt(longName string) (base, ext string) {
	longName = strings.TrimRight(longName, " .")
	name := strings.ToUpper(longName)

	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		base = name
	} else {
		base = name[:dot]
		ext = name[dot+1:]
	}

	base = stripShortNameChars(base)
	ext = stripShortNameChars(ext)

	if len(base) > 8 {
		base = base[:8]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	if base == "" {
		base = "_"
	}
	return base, ext
}

func stripShortNameChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ' ' || r == '.':
			continue
		case r > 0x7E:
			b.WriteByte('_')
		case strings.ContainsRune(invalidNameChars+"+,;=[]", r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NeedsLongName reports whether `longName` cannot be represented exactly as
// an 8.3 short name and therefore requires an LFN entry set alongside its
// short-name alias.
func NeedsLongName(longName string) bool {
	base, ext := splitBaseExt(longName)
	reassembled := base
	if ext != "" {
		reassembled += "." + ext
	}
	return !strings.EqualFold(reassembled, strings.TrimRight(longName, " ."))
}

// GenerateShortName derives an 8.3 short name for `longName`, consulting
// `exists` to detect collisions and appending FatFs's numeric tail
// (`~1`..`~9`, falling back to a hash-derived `~XXXX` suffix once single
// digits are exhausted) the way the specification's §4.3 creation algorithm
// describes.
func GenerateShortName(longName string, exists func(shortName string) bool) (string, error) {
	base, ext := splitBaseExt(longName)
	candidate := joinShortName(base, ext)
	if !exists(candidate) {
		return candidate, nil
	}

	maxBase := base
	if len(maxBase) > 7 {
		maxBase = maxBase[:7]
	}
	for n := 1; n <= 9; n++ {
		candidate = joinShortName(fmt.Sprintf("%s~%d", maxBase, n), ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}

	hash := shortNameTailHash(longName)
	shortBase := base
	if len(shortBase) > 2 {
		shortBase = shortBase[:2]
	}
	for n := 0; n < 1000000; n++ {
		tail := fmt.Sprintf("%04X", (uint32(hash)+uint32(n))&0xFFFF)
		candidate = joinShortName(fmt.Sprintf("%s~%s", shortBase, tail), ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique short name for %q", longName)
}

func joinShortName(base, ext string) string {
	if len(base) > 8 {
		base = base[:8]
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// shortNameTailHash derives a stable 16-bit hash of the full long name, used
// to seed the hexadecimal numeric tail once the single-digit `~1`..`~9`
// range is exhausted.
func shortNameTailHash(longName string) uint16 {
	var h uint16 = 0
	for _, r := range strings.ToUpper(longName) {
		h = h<<3 ^ h>>13 ^ uint16(r)
	}
	return h
}

// MatchPattern reports whether `name` matches a shell-style glob `pattern`,
// ignoring case. There is no stateful find-first/find-next cursor: callers
// get a Readdir-shaped directory listing and filter it with this function.
func MatchPattern(name, pattern string) bool {
	matched, err := filepath.Match(strings.ToUpper(pattern), strings.ToUpper(name))
	if err != nil {
		return false
	}
	return matched
}
