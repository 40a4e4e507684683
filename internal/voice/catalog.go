package voice

import "sort"

// Info describes one synthetic voice shipped with the inference model.
type Info struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Language           string `json:"language"`
	Gender             string `json:"gender"`
	Description        string `json:"description,omitempty"`
	HasBackgroundMusic bool   `json:"has_background_music"`
}

// Embedded voices bundled with the generation model.
var catalog = []Info{
	{ID: "en-Alice_woman", Name: "Alice", Language: "en", Gender: "female", Description: "English female voice, neutral tone"},
	{ID: "en-Carter_man", Name: "Carter", Language: "en", Gender: "male", Description: "English male voice, professional tone"},
	{ID: "en-Frank_man", Name: "Frank", Language: "en", Gender: "male", Description: "English male voice, conversational"},
	{ID: "en-Mary_woman_bgm", Name: "Mary", Language: "en", Gender: "female", Description: "English female voice with background music", HasBackgroundMusic: true},
	{ID: "en-Maya_woman", Name: "Maya", Language: "en", Gender: "female", Description: "English female voice, warm tone"},
	{ID: "in-Samuel_man", Name: "Samuel", Language: "in", Gender: "male", Description: "Indian English male voice"},
	{ID: "zh-Anchen_man_bgm", Name: "Anchen", Language: "zh", Gender: "male", Description: "Chinese male voice with background music", HasBackgroundMusic: true},
	{ID: "zh-Bowen_man", Name: "Bowen", Language: "zh", Gender: "male", Description: "Chinese male voice"},
	{ID: "zh-Xinran_woman", Name: "Xinran", Language: "zh", Gender: "female", Description: "Chinese female voice"},
}

// DefaultVoice is used for any speaker id without an explicit mapping.
const DefaultVoice = "en-Carter_man"

// List returns the embedded voice catalog.
func List() []Info {
	out := make([]Info, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Info, bool) {
	for _, v := range catalog {
		if v.ID == id {
			return v, true
		}
	}
	return Info{}, false
}

// Resolve maps the given speaker ids to voice identifiers in ascending
// speaker order. Unmapped ids fall back to defaultVoice: a missing mapping
// must never abort a multi-minute generation run over one segment.
func Resolve(mapping map[int]string, speakerIDs []int, defaultVoice string) []string {
	if defaultVoice == "" {
		defaultVoice = DefaultVoice
	}
	ids := make([]int, len(speakerIDs))
	copy(ids, speakerIDs)
	sort.Ints(ids)

	voices := make([]string, 0, len(ids))
	for _, id := range ids {
		if v, ok := mapping[id]; ok && v != "" {
			voices = append(voices, v)
			continue
		}
		voices = append(voices, defaultVoice)
	}
	return voices
}
