package engine

import "fmt"

// GenerateSkillTest derives a deterministic arithmetic puzzle from the draw
// randomness. Regenerated on every (re)selection so a failed claimant never
// sees the next winner's question.
func GenerateSkillTest(randomValue uint64) (question string, answer int64) {
	a := int64(randomValue%90) + 10
	b := int64((randomValue/97)%90) + 10

	switch (randomValue / 13) % 3 {
	case 0:
		return fmt.Sprintf("What is %d + %d?", a, b), a + b
	case 1:
		if a < b {
			a, b = b, a
		}
		return fmt.Sprintf("What is %d - %d?", a, b), a - b
	default:
		return fmt.Sprintf("What is %d * %d?", a, b), a * b
	}
}
