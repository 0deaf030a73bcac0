package espconn

import (
	"context"
	"crypto/md5" //nolint:gosec // the ROM digest is MD5
	"fmt"

	"github.com/arloliu/go-espconn/partition"
)

// PartitionTable reads and decodes the partition table.
//
// The raw table is streamed from flash and checked against the digest the
// device computes over the same range; a difference is ErrTransferCorrupted.
// Decoding problems found after at least one valid entry are returned
// together with the partial table: a *partition.TruncatedError, or
// partition.ErrDigestMismatch when the table's own MD5 record disagrees.
func (c *Connection) PartitionTable(ctx context.Context) (*partition.Table, error) {
	tbl, err := c.partitionTable(ctx)
	c.toolCompleted(OpPartitions, err)

	return tbl, err
}

func (c *Connection) partitionTable(ctx context.Context) (*partition.Table, error) {
	data, err := c.readFlash(ctx, partition.TableOffset, partition.TableSize)
	if err != nil {
		return nil, err
	}

	remote, err := c.digestOnDevice(ctx, partition.TableOffset, partition.TableSize)
	if err != nil {
		return nil, err
	}

	if local := md5.Sum(data); local != remote { //nolint:gosec
		c.logger.Warn("espconn: partition table transfer corrupted",
			"local", fmt.Sprintf("%x", local), "device", fmt.Sprintf("%x", remote))

		return nil, fmt.Errorf("%w: partition table at 0x%x", ErrTransferCorrupted, partition.TableOffset)
	}

	tbl, err := partition.Decode(data, partition.TableOffset)
	if tbl != nil {
		c.logger.Debug("espconn: partition table read", "entries", len(tbl.Entries), "digest", tbl.HasDigest)
	}

	return tbl, err
}
