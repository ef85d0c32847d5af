package chunkgo

// Close drops every cached chunk and shuts the allocator down. The file
// index is emptied first, then the store is drained, then the buffer pool
// is closed.
//
// Rebuffer calls made after Close fail with ErrClosed, and loads still in
// flight when Close runs are backed out as they complete. Buffers still
// held by readers stay valid; their final Release returns the memory
// directly to the operating system.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	if c.closed.Swap(true) {
		return nil
	}
	c.enabled.Store(false)

	if c.store == nil {
		return nil
	}

	entries := c.store.Size()
	weighted := c.store.WeightedSize()

	c.index.Clear()
	c.store.InvalidateAll()

	err := c.pool.Close()

	c.logger.LogClose(entries, weighted)
	return err
}
