package regions

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

// Select keeps the regions named by selectors, in the order the selectors
// are given. A selector matches an external id or a case-insensitive name.
// No selectors means every region. Unmatched selectors are returned.
func Select(all []crawler.Region, selectors []string) ([]crawler.Region, []string) {
	if len(selectors) == 0 {
		return all, nil
	}
	var (
		out     []crawler.Region
		missing []string
		seen    = make(map[int64]bool)
	)
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		id, idErr := strconv.ParseInt(sel, 10, 64)
		found := false
		for _, r := range all {
			if (idErr == nil && r.ExternalID == id) || strings.EqualFold(r.Name, sel) {
				found = true
				if !seen[r.ExternalID] {
					seen[r.ExternalID] = true
					out = append(out, r)
				}
			}
		}
		if !found {
			missing = append(missing, sel)
		}
	}
	return out, missing
}
