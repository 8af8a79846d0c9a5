package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Entity partitions.
const (
	PartitionName      = "NAME"
	PartitionRecipient = "RECIPIENT"
	PartitionChannel   = "CHANNEL"
	PartitionClaim     = "CLAIM"
	PartitionBoard     = "BOARD"
)

// Attribute names.
const (
	AttrRecipient   = "recipient"
	AttrName        = "name"
	AttrChat        = "chat"
	AttrClaimedAt   = "claimed_at"
	AttrMessageID   = "message_id"
	AttrFingerprint = "fingerprint"
	AttrYear        = "year"
	AttrDay         = "day"
	AttrLockedAt    = "locked_at"
)

const sep = "#"

func NameKey(name string) Key { return Key{Partition: PartitionName, Sort: name} }

func RecipientKey(id int64) Key {
	return Key{Partition: PartitionRecipient, Sort: strconv.FormatInt(id, 10)}
}

// ChannelKey sorts days numerically inside a year by zero-padding them.
func ChannelKey(year, day int) Key {
	return Key{Partition: PartitionChannel, Sort: ChannelYearPrefix(year) + fmt.Sprintf("%02d", day)}
}

func ChannelYearPrefix(year int) string { return strconv.Itoa(year) + sep }

// ParseChannelSort is the inverse of ChannelKey's sort key.
func ParseChannelSort(sort string) (year, day int, err error) {
	ys, ds, ok := strings.Cut(sort, sep)
	if !ok {
		return 0, 0, fmt.Errorf("storage: bad channel key %q", sort)
	}
	if year, err = strconv.Atoi(ys); err != nil {
		return 0, 0, fmt.Errorf("storage: bad channel key %q: %w", sort, err)
	}
	if day, err = strconv.Atoi(ds); err != nil {
		return 0, 0, fmt.Errorf("storage: bad channel key %q: %w", sort, err)
	}
	return year, day, nil
}

func ClaimKey(recipient int64, year, day int, chat int64) Key {
	return Key{Partition: PartitionClaim, Sort: fmt.Sprintf("%d#%d#%02d#%d", recipient, year, day, chat)}
}

func BoardKey(chat int64) Key {
	return Key{Partition: PartitionBoard, Sort: strconv.FormatInt(chat, 10)}
}
