package fetcher

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// blobStore dedupes blob downloads by object id. Identical files share one
// blob SHA, so a tree with duplicates downloads each distinct blob once. The
// store lives for one run.
type blobStore struct {
	data  sync.Map
	group singleflight.Group
}

func (s *blobStore) get(sha string, fetch func() ([]byte, error)) ([]byte, error) {
	if v, ok := s.data.Load(sha); ok {
		return v.([]byte), nil
	}
	v, err, _ := s.group.Do(sha, func() (interface{}, error) {
		if v, ok := s.data.Load(sha); ok {
			return v, nil
		}
		content, err := fetch()
		if err != nil {
			return nil, err
		}
		s.data.Store(sha, content)
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
