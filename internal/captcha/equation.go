package captcha

import (
	"strconv"

	"github.com/iamwavecut/tool"
)

const maxOperand = 49

// Equation is a digits challenge. Answers never exceed two digits so a
// correct reply always fits the two digit limit of the message gate.
type Equation struct {
	Question string
	Answer   string
}

func NewEquation() Equation {
	a := tool.RandInt(1, maxOperand)
	b := tool.RandInt(1, maxOperand)
	if tool.RandInt(0, 1) == 0 {
		return Equation{
			Question: strconv.Itoa(a) + " + " + strconv.Itoa(b),
			Answer:   strconv.Itoa(a + b),
		}
	}
	if a < b {
		a, b = b, a
	}
	return Equation{
		Question: strconv.Itoa(a) + " - " + strconv.Itoa(b),
		Answer:   strconv.Itoa(a - b),
	}
}
