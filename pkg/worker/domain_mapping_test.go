package worker

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/testutil"
)

func TestInstallInitialDomainMapping(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	event := platform.NewEvent(models.ExtractionExternalSyncUnitsStart)

	err := InstallInitialDomainMapping(context.Background(), platform.Client(), event, &InitialDomainMapping{
		StartingRecipeBlueprint: map[string]interface{}{"name": "default recipe"},
		AdditionalMappings: map[string]interface{}{
			"record_type_mappings": map[string]interface{}{"issues": "ticket"},
			"import_slug":          "overridden-import",
		},
	}, testutil.TestLogger(t))
	require.NoError(t, err)

	versions := platform.Requests(testutil.SnapInVersionPath)
	require.Len(t, versions, 1)
	assert.Equal(t, "snap-in-version-1", versions[0].Query.Get("id"))

	blueprints := platform.Requests(testutil.BlueprintPath)
	require.Len(t, blueprints, 1)
	assert.Equal(t, "default recipe", gjson.GetBytes(blueprints[0].Body, "name").String())

	installs := platform.Requests(testutil.InstallPath)
	require.Len(t, installs, 1)
	body := installs[0].Body
	assert.Equal(t, "ADaaS", gjson.GetBytes(body, "external_system_type").String())
	assert.Equal(t, "snap-in-slug", gjson.GetBytes(body, "snap_in_slug").String())
	assert.Equal(t, "blueprint-1", gjson.GetBytes(body, "starting_recipe_blueprint").String())
	assert.Equal(t, "ticket", gjson.GetBytes(body, "record_type_mappings.issues").String())
	assert.Equal(t, "overridden-import", gjson.GetBytes(body, "import_slug").String())
	assert.Equal(t, "test-token", installs[0].Header.Get("Authorization"))
}

func TestInstallInitialDomainMappingWithoutBlueprint(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	event := platform.NewEvent(models.ExtractionExternalSyncUnitsStart)

	err := InstallInitialDomainMapping(context.Background(), platform.Client(), event, &InitialDomainMapping{
		AdditionalMappings: map[string]interface{}{"record_type_mappings": map[string]interface{}{}},
	}, testutil.TestLogger(t))
	require.NoError(t, err)

	assert.Empty(t, platform.Requests(testutil.BlueprintPath))
	installs := platform.Requests(testutil.InstallPath)
	require.Len(t, installs, 1)
	assert.Equal(t, "import-slug", gjson.GetBytes(installs[0].Body, "import_slug").String())
	assert.False(t, gjson.GetBytes(installs[0].Body, "starting_recipe_blueprint").Exists())
}

func TestInstallInitialDomainMappingBlueprintFailureStillInstalls(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	platform.RespondStatus(testutil.BlueprintPath, http.StatusBadRequest)
	event := platform.NewEvent(models.ExtractionExternalSyncUnitsStart)

	err := InstallInitialDomainMapping(context.Background(), platform.Client(), event, &InitialDomainMapping{
		StartingRecipeBlueprint: map[string]interface{}{"name": "broken"},
	}, testutil.TestLogger(t))
	require.NoError(t, err)

	installs := platform.Requests(testutil.InstallPath)
	require.Len(t, installs, 1)
	assert.False(t, gjson.GetBytes(installs[0].Body, "starting_recipe_blueprint").Exists())
}

func TestInstallInitialDomainMappingVersionFailure(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	platform.RespondStatus(testutil.SnapInVersionPath, http.StatusInternalServerError)
	event := platform.NewEvent(models.ExtractionExternalSyncUnitsStart)

	err := InstallInitialDomainMapping(context.Background(), platform.Client(), event, &InitialDomainMapping{}, testutil.TestLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Empty(t, platform.Requests(testutil.InstallPath))
}

func TestInstallInitialDomainMappingNil(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	event := platform.NewEvent(models.ExtractionExternalSyncUnitsStart)

	require.NoError(t, InstallInitialDomainMapping(context.Background(), platform.Client(), event, nil, testutil.TestLogger(t)))
	assert.Empty(t, platform.Requests(""))
}

func TestSpawnInstallsDomainMappingOnExternalSyncUnits(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	Spawn(ctx, Options[testState]{
		Event:                platform.NewEvent(models.ExtractionExternalSyncUnitsStart),
		Config:               testConfig(),
		Client:               platform.Client(),
		Logger:               testutil.TestLogger(t),
		InitialDomainMapping: &InitialDomainMapping{AdditionalMappings: map[string]interface{}{"k": "v"}},
		Tasks: Tasks[testState]{
			models.ExtractionExternalSyncUnitsStart: run(func(ctx context.Context, a *Adapter[testState]) error {
				return a.Emit(ctx, models.ExtractionExternalSyncUnitsDone, nil)
			}),
		},
	})

	assert.Len(t, platform.Requests(testutil.InstallPath), 1)
	assert.Equal(t, models.ExtractionExternalSyncUnitsDone, singleEvent(t, platform).EventType)
}
