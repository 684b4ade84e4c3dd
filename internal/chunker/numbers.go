package chunker

import (
	"strconv"
	"strings"
)

// MaxSpelledNumber is the largest integer NumberToWords spells out.
const MaxSpelledNumber = 999999

const (
	baseTen      = 10
	baseTwenty   = 20
	baseHundred  = 100
	baseThousand = 1000
)

var (
	onesWords = []string{
		"zero", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teensWords = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tensWords = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

// NumberToWords returns the English words for number. Values outside
// [0, MaxSpelledNumber] are returned as digits.
func NumberToWords(number int) string {
	if number < 0 || number > MaxSpelledNumber {
		return strconv.Itoa(number)
	}

	if number < baseThousand {
		return underThousand(number)
	}

	parts := []string{underThousand(number/baseThousand) + " thousand"}

	if remainder := number % baseThousand; remainder > 0 {
		parts = append(parts, underThousand(remainder))
	}

	return strings.Join(parts, " ")
}

func underThousand(number int) string {
	if number < baseHundred {
		return underHundred(number)
	}

	words := onesWords[number/baseHundred] + " hundred"

	if remainder := number % baseHundred; remainder > 0 {
		words += " " + underHundred(remainder)
	}

	return words
}

func underHundred(number int) string {
	switch {
	case number < baseTen:
		return onesWords[number]
	case number < baseTwenty:
		return teensWords[number-baseTen]
	case number%baseTen == 0:
		return tensWords[number/baseTen]
	default:
		return tensWords[number/baseTen] + " " + onesWords[number%baseTen]
	}
}
