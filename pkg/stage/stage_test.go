package stage

import (
	"testing"

	"github.com/albertocavalcante/artipipe/pkg/content"
)

func TestValidate(t *testing.T) {
	classes := content.Types(content.Classes)
	project := content.Scopes(content.Project)

	tests := []struct {
		name    string
		desc    Description
		wantErr bool
	}{
		{"valid", Description{Name: "dex", Types: classes, Scopes: project}, false},
		{"referenced only", Description{Name: "lint", Types: classes, ReferencedScopes: project}, false},
		{"no name", Description{Types: classes, Scopes: project}, true},
		{"no types", Description{Name: "x", Scopes: project}, true},
		{"no scopes", Description{Name: "x", Types: classes}, true},
		{"consumed and referenced", Description{Name: "x", Types: classes, Scopes: project, ReferencedScopes: project}, true},
		{"output types without consumption", Description{Name: "x", Types: classes, ReferencedScopes: project, OutputTypes: content.Types(content.Dex)}, true},
		{"relative secondary", Description{Name: "x", Types: classes, Scopes: project, Secondary: []SecondaryInput{{Path: "rules.pro"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
