package orm

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEagerLoad_PostsWithAuthorAndComments(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	posts, err := env.schema("Post").Query().With([]string{"author", "comments"}).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, posts.Len())

	assert.Equal(t, 3, env.count(), "queries: %v", env.log())
	assert.Equal(t, 1, env.countFrom("users"))
	assert.Equal(t, 1, env.countFrom("comments"))
	assert.Contains(t, env.log()[1]+env.log()[2], `"users"."id" IN (?, ?)`)

	wantComments := map[int64][]int64{1: {1, 2}, 2: {3}, 3: {}}
	wantAuthor := map[int64]string{1: "alice", 2: "bob", 3: "alice"}
	for _, p := range posts.All() {
		id := p.GetKey().(int64)

		comments := p.RelatedCollection("comments")
		assert.Equal(t, wantComments[id], keysOf(comments), "post %d", id)
		for _, c := range comments.All() {
			assert.EqualValues(t, id, c.GetRaw("post_id"))
		}

		author := p.RelatedModel("author")
		require.NotNil(t, author)
		assert.Equal(t, wantAuthor[id], author.GetString("name"))
	}

	// One author instance is shared by the posts that reference it.
	assert.Same(t, posts.Find(1).RelatedModel("author"), posts.Find(3).RelatedModel("author"))
}

func TestEagerLoad_OneQueryPerRelationRegardlessOfParents(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	posts, err := env.schema("Post").Query().With("comments").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, posts.Len())
	assert.Equal(t, 1, env.countFrom("comments"))

	env.reset()
	none, err := env.schema("Post").Query().Where("id", ">", 100).With("comments", "author").Get(ctx)
	require.NoError(t, err)
	assert.True(t, none.IsEmpty())
	assert.Equal(t, 1, env.count())
	assert.Equal(t, 0, env.countFrom("comments"))
	assert.Equal(t, 0, env.countFrom("users"))
}

func TestWith_KeepsNestedPaths(t *testing.T) {
	env := newTestEnv(t)
	b := env.schema("Post").Query()

	b.With("author.posts").With("author")
	assert.Equal(t, []string{"author", "author.posts"}, sortedConstraintKeys(b.EagerLoads()))

	b.With("comments:id,post_id")
	assert.Equal(t, ConstraintColumns, b.EagerLoads()["comments"].Kind())
	assert.Equal(t, []string{"id", "post_id"}, b.EagerLoads()["comments"].Columns())

	// Naming a path again without a constraint keeps the one it has.
	b.With("comments")
	assert.Equal(t, ConstraintColumns, b.EagerLoads()["comments"].Kind())

	b.With(map[string]func(*Builder){"author": func(q *Builder) { q.Where("name", "alice") }})
	assert.Equal(t, ConstraintFunc, b.EagerLoads()["author"].Kind())
	assert.Contains(t, b.EagerLoads(), "author.posts")

	// A nil constraint function counts as naming the path bare.
	b.With(map[string]func(*Builder){"author": nil, "comments": nil})
	assert.Equal(t, ConstraintFunc, b.EagerLoads()["author"].Kind())
	assert.Equal(t, ConstraintColumns, b.EagerLoads()["comments"].Kind())

	b.With("comments.post.author")
	b.Without("comments")
	assert.NotContains(t, b.EagerLoads(), "comments")
	assert.NotContains(t, b.EagerLoads(), "comments.post")
	assert.NotContains(t, b.EagerLoads(), "comments.post.author")

	b.Without("author")
	assert.Empty(t, b.EagerLoads(), "author.posts goes with author")

	requireLogicPanic(t, func() { b.With(42) })
}

func TestEagerLoad_UnknownRelationFailsBeforeQuerying(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	tests := []struct {
		path     string
		model    string
		relation string
	}{
		{path: "writer", model: "Post", relation: "writer"},
		{path: "author.followers", model: "User", relation: "followers"},
		{path: "comments.post.nope", model: "Post", relation: "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			env.reset()
			_, err := env.schema("Post").Query().With(tt.path).Get(ctx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRelationNotFound))

			var rnf *RelationNotFoundError
			require.True(t, errors.As(err, &rnf))
			assert.Equal(t, tt.model, rnf.Model)
			assert.Equal(t, tt.relation, rnf.Relation)
			assert.Contains(t, err.Error(), tt.model)
			assert.Contains(t, err.Error(), tt.relation)
			assert.Equal(t, 0, env.count())
		})
	}
}

func TestEagerLoad_Nested(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	comments, err := env.schema("Comment").Query().With("post.author.profile").OrderBy("id", "asc").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, env.count(), "queries: %v", env.log())

	first := comments.First()
	post := first.RelatedModel("post")
	require.NotNil(t, post)
	assert.Equal(t, "First", post.GetString("title"))
	author := post.RelatedModel("author")
	require.NotNil(t, author)
	assert.Equal(t, "alice", author.GetString("name"))
	require.NotNil(t, author.RelatedModel("profile"))
	assert.Equal(t, "hi", author.RelatedModel("profile").GetString("bio"))

	// bob has no profile.
	bob := comments.Last().RelatedModel("post").RelatedModel("author")
	assert.True(t, bob.RelationLoaded("profile"))
	assert.Nil(t, bob.RelatedModel("profile"))
}

func TestEagerLoad_Constraints(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	posts, err := env.schema("Post").Query().
		With("author:id,name").
		With(map[string]func(*Builder){"comments": func(q *Builder) { q.Where("approved", 1) }}).
		Get(ctx)
	require.NoError(t, err)

	first := posts.Find(1)
	assert.Equal(t, []int64{1}, keysOf(first.RelatedCollection("comments")))

	author := first.RelatedModel("author")
	require.NotNil(t, author)
	assert.Equal(t, "alice", author.GetString("name"))
	assert.False(t, author.Has("email"))
}

func TestEagerLoad_BelongsToManyWithPivot(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	posts, err := env.schema("Post").Query().With("tags").OrderBy("id", "asc").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.count())

	tags := posts.Find(1).RelatedCollection("tags")
	require.Equal(t, 2, tags.Len())
	assert.ElementsMatch(t, []interface{}{"go", "sql"}, tags.Pluck("name"))

	for _, tag := range tags.All() {
		assert.False(t, tag.Has("pivot_post_id"))
		pivot := tag.RelatedModel(pivotRelation)
		require.NotNil(t, pivot)
		assert.EqualValues(t, 1, pivot.GetRaw("post_id"))
		assert.Equal(t, tag.GetRaw("id"), pivot.GetRaw("tag_id"))
		assert.True(t, pivot.Has("weight"))
	}

	assert.Equal(t, 1, posts.Find(2).RelatedCollection("tags").Len())
	assert.True(t, posts.Find(3).RelatedCollection("tags").IsEmpty())

	// Column constraints are qualified against the joined pivot table.
	env.reset()
	posts, err = env.schema("Post").Query().With("tags:id,name").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, posts.Find(1).RelatedCollection("tags").Len())
}

func TestEagerLoad_Morph(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	posts, err := env.schema("Post").Query().With("images").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a.png"}, posts.Find(1).RelatedCollection("images").Pluck("url"))
	assert.True(t, posts.Find(2).RelatedCollection("images").IsEmpty())

	env.reset()
	images, err := env.schema("Image").Query().With("imageable").OrderBy("id", "asc").Get(ctx)
	require.NoError(t, err)
	// images, then one query per morph type.
	assert.Equal(t, 3, env.count(), "queries: %v", env.log())

	owner := images.Find(1).RelatedModel("imageable")
	require.NotNil(t, owner)
	assert.Equal(t, "Post", owner.Schema().Name)
	assert.Equal(t, "First", owner.GetString("title"))

	owner = images.Find(2).RelatedModel("imageable")
	require.NotNil(t, owner)
	assert.Equal(t, "User", owner.Schema().Name)
	assert.Equal(t, "alice", owner.GetString("name"))
}

func TestLazyLoading(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	post, err := env.schema("Post").Query().Find(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, post)

	res, err := post.GetRelationResults(ctx, "comments")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, keysOf(res.(*Collection)))
	assert.True(t, post.RelationLoaded("comments"))

	res, err = post.GetRelationResults(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.(*Model).GetString("name"))

	res, err = post.GetRelationResults(ctx, "tags")
	require.NoError(t, err)
	assert.Equal(t, 2, res.(*Collection).Len())

	image, err := env.schema("Image").Query().Find(ctx, 2)
	require.NoError(t, err)
	res, err = image.GetRelationResults(ctx, "imageable")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.(*Model).GetString("name"))
	assert.Equal(t, "User", res.(*Model).Schema().Name)

	orphan, err := env.schema("Comment").NewInstance(map[string]interface{}{"body": "x"}, false)
	require.NoError(t, err)
	res, err = orphan.GetRelationResults(ctx, "post")
	require.NoError(t, err)
	assert.Nil(t, res.(*Model))

	_, err = post.GetRelationResults(ctx, "nope")
	assert.True(t, errors.Is(err, ErrRelationNotFound))
}

func TestWithCount(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	posts, err := env.schema("Post").Query().WithCount("comments", "tags").OrderBy("id", "asc").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.count())

	assert.Equal(t, []interface{}{int64(2), int64(1), int64(0)}, posts.Pluck("comments_count"))
	assert.Equal(t, []interface{}{int64(2), int64(1), int64(0)}, posts.Pluck("tags_count"))
	assert.Equal(t, "First", posts.First().GetString("title"))

	users, err := env.schema("User").Query().WithCount("images").OrderBy("id", "asc").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), int64(0)}, users.Pluck("images_count"))

	_, err = env.schema("Image").Query().WithCount("imageable").Get(ctx)
	assert.True(t, errors.Is(err, ErrLogic))
}

func TestLoadMissing(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	posts, err := env.schema("Post").Query().With("author").Get(ctx)
	require.NoError(t, err)

	env.reset()
	require.NoError(t, posts.LoadMissing(ctx, "author", "comments"))
	assert.Equal(t, 1, env.count(), "queries: %v", env.log())
	assert.Equal(t, 1, env.countFrom("comments"))

	// Only the post that lost its comments is reloaded.
	posts.Find(2).UnsetRelation("comments")
	env.reset()
	require.NoError(t, posts.LoadMissing(ctx, "comments"))
	assert.Equal(t, 1, env.count())
	assert.Contains(t, env.log()[0], `"comments"."post_id" IN (?)`)
	assert.Equal(t, []int64{3}, keysOf(posts.Find(2).RelatedCollection("comments")))

	// Nested paths descend into loaded relations.
	env.reset()
	require.NoError(t, posts.LoadMissing(ctx, "author.posts"))
	assert.Equal(t, 1, env.count())
	assert.Equal(t, 2, posts.Find(1).RelatedModel("author").RelatedCollection("posts").Len())

	env.reset()
	require.NoError(t, posts.LoadMissing(ctx, "author.posts"))
	assert.Equal(t, 0, env.count())

	err = posts.LoadMissing(ctx, "nope")
	assert.True(t, errors.Is(err, ErrRelationNotFound))
}

func TestCollectionLoadAndLoadCount(t *testing.T) {
	env := newTestEnv(t)
	env.seedBlog(t)
	ctx := context.Background()

	posts, err := env.schema("Post").Query().OrderBy("id", "asc").Get(ctx)
	require.NoError(t, err)

	env.reset()
	require.NoError(t, posts.Load(ctx, "author", "tags"))
	assert.Equal(t, 2, env.count())
	assert.Equal(t, "bob", posts.Find(2).RelatedModel("author").GetString("name"))

	env.reset()
	require.NoError(t, posts.LoadCount(ctx, "comments"))
	assert.Equal(t, 1, env.count())
	assert.Equal(t, []interface{}{int64(2), int64(1), int64(0)}, posts.Pluck("comments_count"))
	assert.False(t, posts.First().IsDirty())

	empty := NewCollection()
	env.reset()
	require.NoError(t, empty.Load(ctx, "author"))
	require.NoError(t, empty.LoadMissing(ctx, "author"))
	require.NoError(t, empty.LoadCount(ctx, "comments"))
	assert.Equal(t, 0, env.count())

	post := posts.Find(3)
	post.UnsetRelation("author")
	require.NoError(t, post.Load(ctx, "author"))
	assert.Equal(t, "alice", post.RelatedModel("author").GetString("name"))
}
