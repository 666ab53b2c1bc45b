package domain

// OptionEmojis are the positional emoji names seeded on a quiz post; index i
// answers option i.
var OptionEmojis = [OptionCount]string{"one", "two", "three", "four"}

var keycapEmojis = [OptionCount]string{"1️⃣", "2️⃣", "3️⃣", "4️⃣"}

// OptionIndex maps a reaction emoji to an option index. Unrelated emojis
// report false.
func OptionIndex(emoji string) (int, bool) {
	for i := 0; i < OptionCount; i++ {
		if emoji == OptionEmojis[i] || emoji == keycapEmojis[i] {
			return i, true
		}
	}
	return 0, false
}

// OptionKeycap renders option index i as a keycap emoji for messages.
func OptionKeycap(i int) string {
	if i < 0 || i >= OptionCount {
		return "?"
	}
	return keycapEmojis[i]
}
