package espeak

import "testing"

// A trimmed sample of `espeak-ng --voices` output.
const voicesOutput = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 5  en-US           --/M      English_(America)  gmw/en-US
 5  ko              --/M      Korean             sit/ko
 2  en-GB           --/M      English_(Great_Britain) gmw/en-GB
garbage line
`

func TestParseVoices(t *testing.T) {
	t.Parallel()
	voices := parseVoices([]byte(voicesOutput))
	if len(voices) != 4 {
		t.Fatalf("expected 4 voices, got %d: %+v", len(voices), voices)
	}

	ko := voices[2]
	if ko.Name != "Korean" || ko.Lang != "ko" || ko.URI != "sit/ko" {
		t.Errorf("unexpected korean voice %+v", ko)
	}
	if !ko.LocalService {
		t.Error("espeak voices must be marked local")
	}

	us := voices[1]
	if us.Lang != "en-US" || us.Name != "English_(America)" {
		t.Errorf("unexpected en-US voice %+v", us)
	}
}

func TestPitchArg_StaysInsideEspeakRange(t *testing.T) {
	t.Parallel()
	cases := []struct {
		pitch float64
		want  int
	}{
		{0, 0},
		{0.5, 25},
		{1.0, 50},
		{2.0, 99},
		{5.0, 99}, // clamped multiplier, then clamped scale
	}
	for _, tc := range cases {
		if got := pitchArg(tc.pitch); got != tc.want {
			t.Errorf("pitchArg(%v) = %d, want %d", tc.pitch, got, tc.want)
		}
	}
}

func TestParseVoices_EmptyOutput(t *testing.T) {
	t.Parallel()
	if got := parseVoices(nil); len(got) != 0 {
		t.Errorf("expected no voices, got %+v", got)
	}
	if got := parseVoices([]byte("Pty Language Age/Gender VoiceName File Other\n")); len(got) != 0 {
		t.Errorf("header-only output yielded %+v", got)
	}
}
