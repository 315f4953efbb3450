package workflow

import (
	"strings"

	"github.com/elemental/daemon/internal/elements"
	"github.com/elemental/daemon/internal/playbook"
	"github.com/elemental/daemon/pkg/types"
)

// ResolvePlaybook resolves Pour's playbook input by id or name: an
// `el-`-prefixed token is looked up as a playbook element through the
// Element API; anything else is loaded by name from the on-disk
// playbook directory via loader.
func ResolvePlaybook(api *elements.API, loader *playbook.Loader, idOrName string) (*playbook.Definition, error) {
	if strings.HasPrefix(idOrName, "el-") {
		e, err := api.Get(types.ElementId(idOrName), false)
		if err != nil {
			return nil, err
		}
		if e.Playbook == nil {
			return nil, &playbook.ValidationError{Field: "playbookId", Message: "element is not a playbook"}
		}
		return playbook.FromFields(e.Title, e.Playbook), nil
	}
	return loader.Load(idOrName)
}
