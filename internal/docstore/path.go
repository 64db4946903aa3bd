package docstore

import (
	"fmt"
	"strings"
)

// Join builds a slash-separated document or collection path.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split breaks a document path into its collection path and document id.
// Document paths have an even number of non-empty segments.
func Split(path string) (collection, id string, err error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return "", "", fmt.Errorf("docstore: %q is not a document path", path)
	}
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return "", "", fmt.Errorf("docstore: %q has an empty segment", path)
		}
	}
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1], nil
}

// CollectionID returns the last segment of a collection path, which is the
// key used for collection-group queries.
func CollectionID(collection string) string {
	collection = strings.Trim(collection, "/")
	if i := strings.LastIndex(collection, "/"); i >= 0 {
		return collection[i+1:]
	}
	return collection
}
