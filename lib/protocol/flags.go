package protocol

import "strings"

// Flags is the bit set attached to every frame. The flags travel in the frame
// header, not in the payload.
type Flags uint16

const (
	FlagDefault            Flags = 0
	FlagBeginFragment      Flags = 1 << 15
	FlagEndFragment        Flags = 1 << 14
	FlagUnfragmented             = FlagBeginFragment | FlagEndFragment
	FlagIsFinal            Flags = 1 << 13
	FlagBeginDataStructure Flags = 1 << 12
	FlagEndDataStructure   Flags = 1 << 11
	FlagIsNull             Flags = 1 << 10
	FlagIsEvent            Flags = 1 << 9
	FlagBackupAware        Flags = 1 << 8
	FlagBackupEvent        Flags = 1 << 7
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagBeginFragment, "BeginFragment"},
	{FlagEndFragment, "EndFragment"},
	{FlagIsFinal, "IsFinal"},
	{FlagBeginDataStructure, "BeginDataStructure"},
	{FlagEndDataStructure, "EndDataStructure"},
	{FlagIsNull, "IsNull"},
	{FlagIsEvent, "IsEvent"},
	{FlagBackupAware, "BackupAware"},
	{FlagBackupEvent, "BackupEvent"},
}

// Has reports whether all bits of flag are set
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// String returns the set flags joined by "|", e.g. "BeginFragment|IsFinal"
func (f Flags) String() string {
	if f == FlagDefault {
		return "Default"
	}
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}
