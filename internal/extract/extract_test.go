package extract

import (
	"reflect"
	"testing"
)

func TestExtractProfileFieldsComplete(t *testing.T) {
	input := "①田中花子\n②1990/01/01\n③14:30\n④INFP\n⑤女性"
	got := ExtractProfileFields(input)
	want := Fields{
		Name:      "田中花子",
		BirthDate: "1990/01/01",
		BirthTime: "14:30",
		MBTI:      "INFP",
		Gender:    "女性",
	}
	if got != want {
		t.Errorf("ExtractProfileFields() = %+v, want %+v", got, want)
	}
	if !got.Complete() {
		t.Error("expected complete fields")
	}
}

func TestExtractProfileFieldsVariants(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  Fields
	}{
		{
			name:  "full-width colons",
			input: "①：田中花子\n②：1990/01/01\n⑤：女性",
			want:  Fields{Name: "田中花子", BirthDate: "1990/01/01", Gender: "女性"},
		},
		{
			name:  "half-width colons",
			input: "①:田中花子\n②:1990/01/01\n⑤:女性",
			want:  Fields{Name: "田中花子", BirthDate: "1990/01/01", Gender: "女性"},
		},
		{
			name:  "echoed labels",
			input: "①名前：田中花子\n②生年月日：1990/01/01\n④MBTI：INFP\n⑤性別：女性",
			want:  Fields{Name: "田中花子", BirthDate: "1990/01/01", MBTI: "INFP", Gender: "女性"},
		},
		{
			name:  "lowercase mbti label",
			input: "④mbti: infp",
			want:  Fields{MBTI: "infp"},
		},
		{
			name:  "markers out of order",
			input: "⑤女性 ①田中花子 ②1990/01/01",
			want:  Fields{Name: "田中花子", BirthDate: "1990/01/01", Gender: "女性"},
		},
		{
			name:  "single line no separators",
			input: "①田中花子②1990/01/01⑤女性",
			want:  Fields{Name: "田中花子", BirthDate: "1990/01/01", Gender: "女性"},
		},
		{
			name:  "no markers at all",
			input: "こんにちは、占いをお願いします",
			want:  Fields{},
		},
		{
			name:  "empty input",
			input: "",
			want:  Fields{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractProfileFields(tc.input)
			if got != tc.want {
				t.Errorf("ExtractProfileFields(%q) = %+v, want %+v", tc.input, got, tc.want)
			}
		})
	}
}

func TestMissingRequired(t *testing.T) {
	got := ExtractProfileFields("①田中花子\n②1990/01/01")
	missing := got.MissingRequired()
	want := []string{LabelGender}
	if !reflect.DeepEqual(missing, want) {
		t.Errorf("MissingRequired() = %v, want %v", missing, want)
	}
	if got.Complete() {
		t.Error("expected incomplete fields")
	}
}

func TestHasAnyMarker(t *testing.T) {
	if !HasAnyMarker("②1990/01/01") {
		t.Error("expected marker to be detected")
	}
	if HasAnyMarker("1. 田中花子") {
		t.Error("plain numbering must not count as a marker")
	}
	if HasAnyMarker("") {
		t.Error("empty input must not report a marker")
	}
}
