package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefix(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "property",
			source: "a{user-select:none}",
			want:   "a{-webkit-user-select:none;-moz-user-select:none;-ms-user-select:none;user-select:none}",
		},
		{
			name:   "existing prefix",
			source: "a{-webkit-user-select:none;user-select:none}",
			want:   "a{-webkit-user-select:none;-moz-user-select:none;-ms-user-select:none;user-select:none}",
		},
		{
			name:   "sticky",
			source: "a{color:red;position:sticky}",
			want:   "a{color:red;position:-webkit-sticky;position:sticky}",
		},
		{
			name:   "fit-content",
			source: "a{width:fit-content}",
			want:   "a{width:-webkit-fit-content;width:-moz-fit-content;width:fit-content}",
		},
		{
			name:   "nested mask",
			source: "@media (min-width:1px){a{mask:url(x.svg)}}",
			want:   "@media (min-width:1px){a{-webkit-mask:url(x.svg);mask:url(x.svg)}}",
		},
		{
			name:   "pseudo selector",
			source: "a:hover{color:blue}",
			want:   "a:hover{color:blue}",
		},
		{
			name:   "string",
			source: `a::before{content:"user-select:none;"}`,
			want:   `a::before{content:"user-select:none;"}`,
		},
		{
			name:   "comment with delimiters",
			source: "a{/* b { c; */user-select:none}",
			want:   "a{/* b { c; */-webkit-user-select:none;-moz-user-select:none;-ms-user-select:none;user-select:none}",
		},
		{
			name:   "data url",
			source: "a{mask:url(data:image/svg+xml;utf8,x);color:red}",
			want:   "a{-webkit-mask:url(data:image/svg+xml;utf8,x);mask:url(data:image/svg+xml;utf8,x);color:red}",
		},
		{
			name:   "quoted data url",
			source: `a{mask-image:url("data:image/png;base64,AA==")}`,
			want:   `a{-webkit-mask-image:url("data:image/png;base64,AA==");mask-image:url("data:image/png;base64,AA==")}`,
		},
		{
			name:   "brackets",
			source: "a{grid-template-columns:[a;b] 1fr;user-select:none}",
			want:   "a{grid-template-columns:[a;b] 1fr;-webkit-user-select:none;-moz-user-select:none;-ms-user-select:none;user-select:none}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Prefix(tt.source, PrefixOptions{Cascade: true}))
		})
	}
}

func TestPrefixCascade(t *testing.T) {
	source := "a {\n  user-select: none;\n}\n"
	want := "a {\n" +
		"  -webkit-user-select: none;\n" +
		"     -moz-user-select: none;\n" +
		"      -ms-user-select: none;\n" +
		"          user-select: none;\n" +
		"}\n"

	assert.Equal(t, want, Prefix(source, PrefixOptions{Cascade: true}))

	flat := "a {\n" +
		"  -webkit-user-select: none;\n" +
		"  -moz-user-select: none;\n" +
		"  -ms-user-select: none;\n" +
		"  user-select: none;\n" +
		"}\n"
	assert.Equal(t, flat, Prefix(source, PrefixOptions{}))
}
