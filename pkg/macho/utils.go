package macho

import "strconv"

type intName struct {
	I uint32
	S string
}

func stringName(i uint32, names []intName, goSyntax bool) string {
	for _, n := range names {
		if n.I == i {
			if goSyntax {
				return "macho." + n.S
			}
			return n.S
		}
	}
	return strconv.FormatUint(uint64(i), 10)
}
