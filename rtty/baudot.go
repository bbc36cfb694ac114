package rtty

// Baudot (ITA2) 5-bit code tables with two shift planes. Codes 27 and 31
// select the figures and letters plane and never produce a character
// themselves. Unassigned slots decode to NUL; downstream display layers
// filter non-printables.
const (
	BaudotFigures = 27 // FIGS shift code
	BaudotLetters = 31 // LTRS shift code
)

// baudotLetters is the letters plane, indexed by 5-bit code.
var baudotLetters = [32]byte{
	0x00: 0, // NUL
	0x01: 'E',
	0x02: '\n',
	0x03: 'A',
	0x04: ' ',
	0x05: 'S',
	0x06: 'I',
	0x07: 'U',
	0x08: '\r',
	0x09: 'D',
	0x0A: 'R',
	0x0B: 'J',
	0x0C: 'N',
	0x0D: 'F',
	0x0E: 'C',
	0x0F: 'K',
	0x10: 'T',
	0x11: 'Z',
	0x12: 'L',
	0x13: 'W',
	0x14: 'H',
	0x15: 'Y',
	0x16: 'P',
	0x17: 'Q',
	0x18: 'O',
	0x19: 'B',
	0x1A: 'G',
	0x1B: 0, // FIGS
	0x1C: 'M',
	0x1D: 'X',
	0x1E: 'V',
	0x1F: 0, // LTRS
}

// baudotFigures is the figures plane, indexed by 5-bit code.
var baudotFigures = [32]byte{
	0x00: 0, // NUL
	0x01: '3',
	0x02: '\n',
	0x03: '-',
	0x04: ' ',
	0x05: '\a', // BEL
	0x06: '8',
	0x07: '7',
	0x08: '\r',
	0x09: '$',
	0x0A: '4',
	0x0B: '\'',
	0x0C: ',',
	0x0D: '!',
	0x0E: ':',
	0x0F: '(',
	0x10: '5',
	0x11: '+',
	0x12: ')',
	0x13: '2',
	0x14: '#',
	0x15: '6',
	0x16: '0',
	0x17: '1',
	0x18: '9',
	0x19: '?',
	0x1A: '&',
	0x1B: 0, // FIGS
	0x1C: '.',
	0x1D: '/',
	0x1E: ';',
	0x1F: 0, // LTRS
}
