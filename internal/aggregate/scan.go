package aggregate

import (
	"fmt"
	"strings"

	"castindex/internal/annotation"
	"castindex/internal/artifacts"
	"castindex/internal/itemstore"
)

// Scan loads annotation artifacts in scan order. An artifact that cannot be
// read or decoded becomes an error annotation so Build lists it as skipped.
func Scan(cache *artifacts.Cache, items []itemstore.Item) ([]annotation.Annotation, error) {
	refs, err := cache.Annotations(items)
	if err != nil {
		return nil, err
	}
	out := make([]annotation.Annotation, 0, len(refs))
	for _, ref := range refs {
		data, err := cache.Read(ref.Ref)
		if err != nil {
			out = append(out, annotation.Annotation{ItemID: ref.ItemID, Error: fmt.Sprintf("unreadable annotation: %v", err)})
			continue
		}
		ann, err := annotation.Decode(data)
		if err != nil {
			out = append(out, annotation.Annotation{ItemID: ref.ItemID, Error: fmt.Sprintf("invalid annotation: %v", err)})
			continue
		}
		if strings.TrimSpace(ann.ItemID) == "" {
			ann.ItemID = ref.ItemID
		}
		out = append(out, ann)
	}
	return out, nil
}
