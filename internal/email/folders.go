package email

import (
	"slices"
	"strings"
)

// OrderFolders puts system folders first, keeping the provider's order, and
// then user folders sorted by name.
func OrderFolders(folders []Folder) []Folder {
	out := make([]Folder, 0, len(folders))
	var user []Folder
	for _, f := range folders {
		if f.Kind == FolderSystem {
			out = append(out, f)
			continue
		}
		user = append(user, f)
	}
	slices.SortStableFunc(user, func(a, b Folder) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return append(out, user...)
}
