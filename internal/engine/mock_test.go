package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/engine"
	"github.com/roach88/corpussync/internal/engine/mocks"
	"github.com/roach88/corpussync/internal/events"
	"github.com/roach88/corpussync/internal/testutil"
)

func decoded(t *testing.T, spec testutil.ArticleSpec) *article.Document {
	t.Helper()
	doc, err := article.Decode(doi.MustParse(spec.DOI), testutil.ArticleXML(spec))
	require.NoError(t, err)
	return doc
}

func TestRun_Mock_PersistenceErrorSkipsRegistrySave(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockRegistry(ctrl)
	local := mocks.NewMockLocalStore(ctrl)
	draftStore := mocks.NewMockDraftStore(ctrl)
	pub := mocks.NewMockPublisher(ctrl)

	doc := decoded(t, testutil.ArticleSpec{DOI: idA.String(), Draft: true})

	draftStore.EXPECT().Load(gomock.Any()).Return(doi.NewSet(), nil)
	reg.EXPECT().ListAllIDs(gomock.Any()).Return(doi.NewSet(idA), nil)
	local.EXPECT().ListIDs(gomock.Any()).Return(doi.NewSet(), nil)
	reg.EXPECT().Fetch(gomock.Any(), idA).Return(doc, nil)
	local.EXPECT().Put(gomock.Any(), doc).Return(errors.New("no space left on device"))
	draftStore.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	e := engine.New(reg, local, draftStore,
		engine.WithLogger(nilLogger()),
		engine.WithPublisher(pub),
		engine.WithRetry(testRetry),
	)
	s, err := e.Run(context.Background())

	require.Error(t, err)
	assert.True(t, engine.IsPersistenceError(err))
	assert.Equal(t, 1, s.Fetched)
	assert.Equal(t, 0, s.Merged)
}

func TestRun_Mock_PromotionUsesFingerprintBeforeFetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockRegistry(ctrl)
	local := mocks.NewMockLocalStore(ctrl)
	draftStore := mocks.NewMockDraftStore(ctrl)
	pub := mocks.NewMockPublisher(ctrl)

	final := decoded(t, testutil.ArticleSpec{DOI: idD.String(), VORUpdate: true})

	draftStore.EXPECT().Load(gomock.Any()).Return(doi.NewSet(idD), nil)
	reg.EXPECT().ListAllIDs(gomock.Any()).Return(doi.NewSet(idD), nil)
	local.EXPECT().ListIDs(gomock.Any()).Return(doi.NewSet(idD), nil)
	gomock.InOrder(
		local.EXPECT().Fingerprint(gomock.Any(), idD).Return(article.Fingerprint("old"), true, nil),
		reg.EXPECT().FetchFingerprint(gomock.Any(), idD).Return(final.Fingerprint, nil),
		reg.EXPECT().Fetch(gomock.Any(), idD).Return(final, nil),
		local.EXPECT().Put(gomock.Any(), final).Return(nil),
	)

	var saved doi.Set
	draftStore.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ids doi.Set) error {
		saved = ids
		return nil
	})
	var published []events.Change
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, changes []events.Change) error {
		published = changes
		return nil
	})

	e := engine.New(reg, local, draftStore,
		engine.WithLogger(nilLogger()),
		engine.WithPublisher(pub),
		engine.WithRetry(testRetry),
	)
	s, err := e.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, s.Promoted)
	require.NotNil(t, saved)
	assert.Equal(t, 0, saved.Len())
	require.Len(t, published, 1)
	assert.Equal(t, events.ActionUpdated, published[0].Action)
}

func TestRun_Mock_DraftRegistryLoadFailureAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockRegistry(ctrl)
	local := mocks.NewMockLocalStore(ctrl)
	draftStore := mocks.NewMockDraftStore(ctrl)

	draftStore.EXPECT().Load(gomock.Any()).Return(nil, errors.New("redis: connection refused"))

	e := engine.New(reg, local, draftStore, engine.WithLogger(nilLogger()))
	s, err := e.Run(context.Background())

	require.Error(t, err)
	var re *engine.RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, engine.ErrCodeDraftRegistry, re.Code)
	assert.True(t, s.Aborted)
}
