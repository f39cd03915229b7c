package mxtool

// SplitArgs partitions items into ordered batches whose serialized size
// (each item plus one separator byte) stays under maxBytes. Some wrapped
// tools cannot read their file list from a response file, and command lines
// have a hard OS length limit, so oversized argument lists must be run in
// batches. An item longer than the bound still gets a batch of its own; no
// item is dropped, split or reordered.
func SplitArgs(items []string, maxBytes int) [][]string {
	var batches [][]string
	var batch []string
	size := 0
	for _, item := range items {
		s := len(item) + 1
		if len(batch) > 0 && size+s >= maxBytes {
			batches = append(batches, batch)
			batch = nil
			size = 0
		}
		batch = append(batch, item)
		size += s
	}
	if len(batch) > 0 {
		batches = append(batches, batch)
	}
	return batches
}
