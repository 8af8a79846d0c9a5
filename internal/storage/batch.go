package storage

import "context"

// BatchGetAll fetches keys in windows of st.MaxBatch(); the last window holds
// the remainder. Duplicate keys are looked up once. Misses are absent from the
// result.
func BatchGetAll(ctx context.Context, st Store, keys []Key) (map[Key]Item, error) {
	window := st.MaxBatch()
	if window <= 0 {
		window = DefaultBatchSize
	}
	uniq := make([]Key, 0, len(keys))
	seen := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}

	out := make(map[Key]Item, len(uniq))
	for start := 0; start < len(uniq); start += window {
		end := min(start+window, len(uniq))
		got, err := st.BatchGet(ctx, uniq[start:end])
		if err != nil {
			return nil, err
		}
		for k, it := range got {
			out[k] = it
		}
	}
	return out, nil
}

// QueryAll follows pagination until the range is exhausted.
func QueryAll(ctx context.Context, st Store, partition, prefix string) ([]Item, error) {
	var (
		out   []Item
		after string
	)
	for {
		p, err := st.Query(ctx, QueryInput{Partition: partition, SortPrefix: prefix, After: after})
		if err != nil {
			return nil, err
		}
		out = append(out, p.Items...)
		if p.Next == "" {
			return out, nil
		}
		after = p.Next
	}
}
