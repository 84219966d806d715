package convert

import (
	"fmt"
	"path"
	"strings"

	"github.com/spherical/pdfzip/internal/domain"
)

// SelectRange computes which pages of a total-page document are converted.
// Negative skips count as zero.
func SelectRange(total, skipStart, skipEnd, maxPages int) (domain.PageRange, error) {
	start := max(0, skipStart)
	end := total - max(0, skipEnd)

	if start >= end {
		return domain.PageRange{}, &domain.EmptyRangeError{Total: total, Start: start, End: end}
	}
	if count := end - start; count > maxPages {
		return domain.PageRange{}, &domain.PageLimitExceededError{Count: count, Limit: maxPages}
	}
	return domain.PageRange{Start: start, End: end}, nil
}

// ArchiveName derives "<base>_<count>.zip" from an upload name. Directory
// components a client may send are dropped and only the last extension is
// stripped.
func ArchiveName(source string, count int) string {
	base := path.Base(strings.ReplaceAll(source, `\`, "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "document"
	}
	return fmt.Sprintf("%s_%d.zip", base, count)
}

// EntryName formats the archive entry name for a 1-based ordinal.
func EntryName(pattern string, ordinal int) string {
	return fmt.Sprintf(pattern, ordinal)
}
