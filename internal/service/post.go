package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/pkg/apperror"
)

func (g *Gateway) checkContent(content string, attachments int) error {
	if strings.TrimSpace(content) == "" && attachments == 0 {
		return apperror.Validation("post needs content or an attachment")
	}
	if g.maxContent > 0 && utf8.RuneCountInString(content) > g.maxContent {
		return apperror.Validation("content longer than %d characters", g.maxContent)
	}
	return nil
}

// CreatePost 发帖 / 评论 / 引用
func (g *Gateway) CreatePost(ctx context.Context, cmd *CreatePost) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		author, err := actor(ctx, tx, cmd.ActorID)
		if err != nil {
			return err
		}
		if err := g.checkContent(cmd.Content, len(cmd.Attachments)); err != nil {
			return err
		}

		post := &model.Post{
			ID:        uuid.New().String(),
			AuthorID:  author.ID,
			Content:   cmd.Content,
			CreatedAt: m.now,
			UpdatedAt: m.now,
		}
		p := model.RecordPayload{
			PostID:          post.ID,
			AuthorID:        author.ID,
			Content:         cmd.Content,
			PostCreatedAt:   &post.CreatedAt,
			AuthorFollowers: author.FollowerCount,
		}
		m.primary(model.KindPost, post.ID)

		if cmd.ParentID != nil {
			parent, err := livePost(ctx, tx, *cmd.ParentID)
			if err != nil {
				return err
			}
			if err := g.walkAncestry(ctx, tx, post.ID, parent, false); err != nil {
				return err
			}
			root, err := rootOf(ctx, tx, parent)
			if err != nil {
				return err
			}
			post.ParentID = &parent.ID
			post.RootID = &root.ID
			post.Depth = parent.Depth + 1
			p.ParentID, p.ParentAuthorID = parent.ID, parent.AuthorID
			p.RootID, p.RootAuthorID = root.ID, root.AuthorID
			m.touch(model.KindPost, parent.ID, "parent")
		}
		if cmd.QuotedID != nil {
			quoted, err := livePost(ctx, tx, *cmd.QuotedID)
			if err != nil {
				return err
			}
			if err := g.walkAncestry(ctx, tx, post.ID, quoted, false); err != nil {
				return err
			}
			post.QuotedID = &quoted.ID
			p.QuotedID, p.QuotedAuthorID = quoted.ID, quoted.AuthorID
			m.touch(model.KindPost, quoted.ID, "quoted")
		}
		if post.Depth > g.maxDepth {
			return apperror.Validation("reply nesting deeper than %d", g.maxDepth)
		}
		post.Pushed = post.ParentID == nil && author.FollowerCount <= g.pushThreshold
		p.Pushed = post.Pushed

		if err := tx.Posts.Create(ctx, post); err != nil {
			return err
		}
		atts := make([]model.Attachment, 0, len(cmd.Attachments))
		for _, a := range cmd.Attachments {
			atts = append(atts, model.Attachment{ID: uuid.New().String(), PostID: post.ID, URL: a.URL, MediaType: a.MediaType, CreatedAt: m.now})
		}
		if err := tx.Posts.AddAttachments(ctx, atts); err != nil {
			return err
		}
		m.payload = p
		return nil
	})
}

// rootOf returns the thread root of a reply's parent.
func rootOf(ctx context.Context, tx *repository.Store, parent *model.Post) (*model.Post, error) {
	if parent.RootID == nil || *parent.RootID == parent.ID {
		return parent, nil
	}
	root, err := tx.Posts.Find(ctx, *parent.RootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return parent, nil
	}
	return root, nil
}

// walkAncestry follows parent and quote links upward from start. Reaching
// self means the new link would close a cycle. With lock every visited row
// is locked, so two concurrent re-parents cannot each miss the other's cycle.
func (g *Gateway) walkAncestry(ctx context.Context, tx *repository.Store, self string, start *model.Post, lock bool) error {
	load := tx.Posts.Find
	if lock {
		load = tx.Posts.FindForUpdate
	}
	seen := map[string]struct{}{}
	frontier := []*model.Post{start}
	for depth := 1; len(frontier) > 0; depth++ {
		if depth > g.maxDepth {
			return apperror.Validation("ancestry deeper than %d", g.maxDepth)
		}
		var next []*model.Post
		for _, p := range frontier {
			if p.ID == self {
				return apperror.Validation("post %s would become its own ancestor", self)
			}
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			for _, link := range []*string{p.ParentID, p.QuotedID} {
				if link == nil {
					continue
				}
				up, err := load(ctx, *link)
				if err != nil {
					return err
				}
				if up != nil {
					next = append(next, up)
				}
			}
		}
		frontier = next
	}
	return nil
}

// EditPost 修改内容或挂到新的父帖下（仅作者本人）
func (g *Gateway) EditPost(ctx context.Context, cmd *EditPost) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, err := actor(ctx, tx, cmd.ActorID); err != nil {
			return err
		}
		post, err := tx.Posts.FindForUpdate(ctx, cmd.PostID)
		if err != nil {
			return err
		}
		if post == nil || post.Deleted() {
			return apperror.Validation("post %s does not exist", cmd.PostID)
		}
		if post.AuthorID != cmd.ActorID {
			return apperror.Validation("only the author can edit post %s", post.ID)
		}
		if cmd.ParentID != nil && *cmd.ParentID != "" {
			if err := uuid.Validate(*cmd.ParentID); err != nil {
				return apperror.Validation("parent_id %q is not a post id", *cmd.ParentID)
			}
		}
		m.primary(model.KindPost, post.ID)

		p := model.RecordPayload{PostID: post.ID, AuthorID: post.AuthorID, Content: post.Content, ParentID: deref(post.ParentID)}
		fields := map[string]any{}
		if cmd.Content != nil && *cmd.Content != post.Content {
			atts, err := tx.Posts.Attachments(ctx, post.ID)
			if err != nil {
				return err
			}
			if err := g.checkContent(*cmd.Content, len(atts)); err != nil {
				return err
			}
			fields["content"] = *cmd.Content
			p.Content, p.ContentChanged = *cmd.Content, true
		}
		if cmd.ParentID != nil && *cmd.ParentID != deref(post.ParentID) {
			if err := g.reparent(ctx, tx, m, post, *cmd.ParentID, fields, &p); err != nil {
				return err
			}
		}
		if len(fields) == 0 {
			m.same(post.ID)
			return nil
		}
		fields["updated_at"] = m.now
		if err := tx.Posts.Update(ctx, post.ID, fields); err != nil {
			return err
		}
		m.payload = p
		return nil
	})
}

func (g *Gateway) reparent(ctx context.Context, tx *repository.Store, m *mutation, post *model.Post, parentID string, fields map[string]any, p *model.RecordPayload) error {
	p.Reparented = true
	p.OldParentID = deref(post.ParentID)
	p.ParentID, p.ParentAuthorID = "", ""
	if p.OldParentID != "" {
		m.touch(model.KindPost, p.OldParentID, "old_parent")
	}

	rootID, depth := post.ID, 0
	if parentID == "" {
		fields["parent_id"] = nil
		fields["root_id"] = nil
	} else {
		if parentID == post.ID {
			return apperror.Validation("post %s cannot be its own parent", post.ID)
		}
		parent, err := tx.Posts.FindForUpdate(ctx, parentID)
		if err != nil {
			return err
		}
		if parent == nil || parent.Deleted() {
			return apperror.Validation("post %s does not exist", parentID)
		}
		if err := g.walkAncestry(ctx, tx, post.ID, parent, true); err != nil {
			return err
		}
		root, err := rootOf(ctx, tx, parent)
		if err != nil {
			return err
		}
		rootID, depth = root.ID, parent.Depth+1
		fields["parent_id"] = parent.ID
		fields["root_id"] = root.ID
		p.ParentID, p.ParentAuthorID = parent.ID, parent.AuthorID
		p.RootID, p.RootAuthorID = root.ID, root.AuthorID
		m.touch(model.KindPost, parent.ID, "parent")
	}
	if depth > g.maxDepth {
		return apperror.Validation("reply nesting deeper than %d", g.maxDepth)
	}
	fields["depth"] = depth
	return g.moveSubtree(ctx, tx, post.ID, rootID, depth, m)
}

// moveSubtree rewrites root and depth of every reply below postID.
func (g *Gateway) moveSubtree(ctx context.Context, tx *repository.Store, postID, rootID string, depth int, m *mutation) error {
	level := []string{postID}
	for d := depth + 1; len(level) > 0; d++ {
		children, err := tx.Posts.Children(ctx, level)
		if err != nil {
			return err
		}
		if len(children) > 0 && d > g.maxDepth {
			return apperror.Validation("reply nesting deeper than %d", g.maxDepth)
		}
		level = level[:0]
		for _, c := range children {
			if err := tx.Posts.Update(ctx, c.ID, map[string]any{"root_id": rootID, "depth": d, "updated_at": m.now}); err != nil {
				return err
			}
			level = append(level, c.ID)
		}
	}
	return nil
}

// DeletePost 软删除；附件与互动保留，直到清理任务运行
func (g *Gateway) DeletePost(ctx context.Context, cmd *DeletePost) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, err := actor(ctx, tx, cmd.ActorID); err != nil {
			return err
		}
		post, err := tx.Posts.FindForUpdate(ctx, cmd.PostID)
		if err != nil {
			return err
		}
		if post == nil {
			return apperror.Validation("post %s does not exist", cmd.PostID)
		}
		if post.AuthorID != cmd.ActorID {
			return apperror.Validation("only the author can delete post %s", post.ID)
		}
		m.primary(model.KindPost, post.ID)
		if post.Deleted() {
			m.same(post.ID)
			return nil
		}
		if err := tx.Posts.Update(ctx, post.ID, map[string]any{"deleted_at": m.now, "updated_at": m.now}); err != nil {
			return err
		}
		m.payload = model.RecordPayload{
			PostID:   post.ID,
			AuthorID: post.AuthorID,
			ParentID: deref(post.ParentID),
			RootID:   deref(post.RootID),
			QuotedID: deref(post.QuotedID),
		}
		return nil
	})
}
