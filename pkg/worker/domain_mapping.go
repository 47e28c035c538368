package worker

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/models"
)

// InitialDomainMapping is the recipe a connector installs on its first sync
type InitialDomainMapping struct {
	StartingRecipeBlueprint map[string]interface{} `json:"starting_recipe_blueprint,omitempty" yaml:"starting_recipe_blueprint,omitempty"`
	AdditionalMappings      map[string]interface{} `json:"additional_mappings,omitempty" yaml:"additional_mappings,omitempty"`
}

// InstallInitialDomainMapping installs mapping for the snap-in version of the event.
// A failed blueprint creation is logged and the mappings are installed without it.
func InstallInitialDomainMapping(ctx context.Context, client *http.Client, event *models.Event, mapping *InitialDomainMapping, logger *zap.Logger) error {
	if mapping == nil {
		logger.Warn("no initial domain mapping found")
		return nil
	}
	endpoint := strings.TrimRight(event.Endpoint(), "/")
	token := event.Token()

	var version bytes.Buffer
	err := requests.
		URL(endpoint+"/internal/snap-in-versions.get").
		Client(client).
		Header("Authorization", token).
		Param("id", event.Context.SnapInVersionID).
		ToBytesBuffer(&version).
		Fetch(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to get snap-in version")
	}

	doc := gjson.ParseBytes(version.Bytes())
	importSlug := doc.Get("snap_in_version.imports.0.slug").String()
	snapInSlug := doc.Get("snap_in_version.slug").String()
	if importSlug == "" || snapInSlug == "" {
		return errors.New(errors.ErrorTypeData, "snap-in version response is missing the import or snap-in slug")
	}

	var blueprintID string
	if len(mapping.StartingRecipeBlueprint) > 0 {
		var created bytes.Buffer
		err := requests.
			URL(endpoint+"/internal/airdrop.recipe.blueprints.create").
			Client(client).
			Header("Authorization", token).
			BodyJSON(mapping.StartingRecipeBlueprint).
			ToBytesBuffer(&created).
			Fetch(ctx)
		if err != nil {
			logger.Error("failed to create recipe blueprint", zap.Error(err))
		} else {
			blueprintID = gjson.GetBytes(created.Bytes(), "recipe_blueprint.id").String()
			logger.Info("created recipe blueprint", zap.String("recipe_blueprint_id", blueprintID))
		}
	}

	body := map[string]interface{}{
		"external_system_type": "ADaaS",
		"import_slug":          importSlug,
		"snap_in_slug":         snapInSlug,
	}
	if blueprintID != "" {
		body["starting_recipe_blueprint"] = blueprintID
	}
	for k, v := range mapping.AdditionalMappings {
		body[k] = v
	}

	err = requests.
		URL(endpoint+"/internal/airdrop.recipe.initial-domain-mappings.install").
		Client(client).
		Header("Authorization", token).
		BodyJSON(body).
		Fetch(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to install initial domain mapping")
	}
	logger.Info("installed initial domain mapping",
		zap.String("import_slug", importSlug),
		zap.String("snap_in_slug", snapInSlug))
	return nil
}
