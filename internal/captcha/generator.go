package captcha

// Generator produces challenge content for the gatekeeper.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) GenerateDigitsChallenge() (question, answer string) {
	eq := NewEquation()
	return eq.Question, eq.Answer
}

func (g *Generator) GenerateImageChallenge() (png []byte, expectedText string, err error) {
	img, err := NewImage()
	if err != nil {
		return nil, "", err
	}
	return img.PNG, img.Text, nil
}
