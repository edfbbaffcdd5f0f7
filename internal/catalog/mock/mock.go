// Package mock provides an in-memory catalog.Store for tests.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/embedding"
)

// Store keeps all documents in maps guarded by one mutex. Insertion
// order is tracked so listings are deterministic.
type Store struct {
	mu sync.RWMutex

	images     map[string]*catalog.Image
	imageOrder []string
	faces      map[string]*catalog.Face
	faceOrder  []string
	persons    map[string]*catalog.Person
	personOrd  []string
	folders    map[string]*catalog.Folder // keyed by path
	folderIDs  map[string]*catalog.Folder
}

var _ catalog.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		images:    make(map[string]*catalog.Image),
		faces:     make(map[string]*catalog.Face),
		persons:   make(map[string]*catalog.Person),
		folders:   make(map[string]*catalog.Folder),
		folderIDs: make(map[string]*catalog.Folder),
	}
}

// --- images ---

func (s *Store) InsertImage(_ context.Context, img *catalog.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[img.ID]; ok {
		return fmt.Errorf("image %s already exists", img.ID)
	}
	if img.UploadedAt.IsZero() {
		img.UploadedAt = time.Now().UTC()
	}
	cp := *img
	s.images[img.ID] = &cp
	s.imageOrder = append(s.imageOrder, img.ID)
	return nil
}

func (s *Store) GetImage(_ context.Context, id string) (*catalog.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (s *Store) GetImageByRelPath(_ context.Context, relPath string) (*catalog.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.imageOrder) - 1; i >= 0; i-- {
		if img, ok := s.images[s.imageOrder[i]]; ok && img.RelativePath == relPath {
			cp := *img
			return &cp, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (s *Store) UpdateImageState(_ context.Context, id, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return fmt.Errorf("image: %w", catalog.ErrNotFound)
	}
	img.Processed = state
	img.ProcessedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetImageFaces(_ context.Context, id string, faceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return fmt.Errorf("image: %w", catalog.ErrNotFound)
	}
	img.Faces = append([]string(nil), faceIDs...)
	return nil
}

func (s *Store) RemoveImageFace(_ context.Context, id, faceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return nil
	}
	kept := img.Faces[:0]
	for _, f := range img.Faces {
		if f != faceID {
			kept = append(kept, f)
		}
	}
	img.Faces = kept
	return nil
}

func (s *Store) MarkImageUploaded(_ context.Context, id, filename, thumbnailPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return fmt.Errorf("image: %w", catalog.ErrNotFound)
	}
	img.IsUploaded = true
	img.Filename = filename
	img.ThumbnailPath = thumbnailPath
	return nil
}

func (s *Store) DeleteImage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[id]; !ok {
		return fmt.Errorf("image: %w", catalog.ErrNotFound)
	}
	delete(s.images, id)
	s.imageOrder = removeID(s.imageOrder, id)
	for fid, f := range s.faces {
		if f.ImageID == id {
			delete(s.faces, fid)
			s.faceOrder = removeID(s.faceOrder, fid)
		}
	}
	return nil
}

func (s *Store) ListImages(_ context.Context, limit, offset int) ([]catalog.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first, mirroring the uploaded_at sort of the real backend.
	ids := append([]string(nil), s.imageOrder...)
	sort.SliceStable(ids, func(i, j int) bool {
		return s.images[ids[i]].UploadedAt.After(s.images[ids[j]].UploadedAt)
	})

	var out []catalog.Image
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		out = append(out, *s.images[ids[i]])
	}
	return out, nil
}

func (s *Store) ImagesByFolder(_ context.Context, folderID string) ([]catalog.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Image
	for _, id := range s.imageOrder {
		if img := s.images[id]; img.FolderID == folderID {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (s *Store) ImagesPendingUpload(_ context.Context) ([]catalog.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Image
	for _, id := range s.imageOrder {
		if img := s.images[id]; !img.IsUploaded {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (s *Store) CountImages(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images), nil
}

// --- faces ---

func (s *Store) InsertFace(_ context.Context, f *catalog.Face) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.faces[f.ID]; ok {
		return fmt.Errorf("face %s already exists", f.ID)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	cp := *f
	cp.Encoding = append([]byte(nil), f.Encoding...)
	s.faces[f.ID] = &cp
	s.faceOrder = append(s.faceOrder, f.ID)
	return nil
}

func (s *Store) GetFace(_ context.Context, id string) (*catalog.Face, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.faces[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *Store) DeleteFace(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faces[id]
	if !ok {
		return fmt.Errorf("face: %w", catalog.ErrNotFound)
	}
	if img, ok := s.images[f.ImageID]; ok {
		img.Faces = removeID(img.Faces, id)
	}
	delete(s.faces, id)
	s.faceOrder = removeID(s.faceOrder, id)
	return nil
}

func (s *Store) SetFaceThumbnail(_ context.Context, id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faces[id]
	if !ok {
		return fmt.Errorf("face: %w", catalog.ErrNotFound)
	}
	f.ThumbnailPath = path
	return nil
}

func (s *Store) UpdateFacePerson(_ context.Context, id, personID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faces[id]
	if !ok {
		return fmt.Errorf("face: %w", catalog.ErrNotFound)
	}
	f.PersonID = personID
	return nil
}

func (s *Store) FacesByImage(_ context.Context, imageID string) ([]catalog.Face, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Face
	for _, id := range s.faceOrder {
		if f := s.faces[id]; f.ImageID == imageID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (s *Store) FacesByPerson(_ context.Context, personID string) ([]catalog.Face, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Face
	for _, id := range s.faceOrder {
		if f := s.faces[id]; f.PersonID == personID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (s *Store) CountFacesByPerson(_ context.Context, personID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, f := range s.faces {
		if f.PersonID == personID {
			n++
		}
	}
	return n, nil
}

func (s *Store) AllFaces(_ context.Context) ([]catalog.Face, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Face, 0, len(s.faceOrder))
	for _, id := range s.faceOrder {
		out = append(out, *s.faces[id])
	}
	return out, nil
}

func (s *Store) MoveFaces(_ context.Context, fromPersonID, toPersonID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := 0
	for _, f := range s.faces {
		if f.PersonID == fromPersonID {
			f.PersonID = toPersonID
			moved++
		}
	}
	return moved, nil
}

func (s *Store) SetFaceThumbnailsByPerson(_ context.Context, personID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.faces {
		if f.PersonID == personID {
			f.ThumbnailPath = path
		}
	}
	return nil
}

func (s *Store) ClearFacePersons(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.faces {
		f.PersonID = ""
	}
	return nil
}

func (s *Store) FindSimilarFaces(_ context.Context, emb []float32, limit int) ([]catalog.Face, []float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		face catalog.Face
		dist float64
	}
	var candidates []scored
	for _, id := range s.faceOrder {
		f := s.faces[id]
		v, err := embedding.Decode(f.Encoding)
		if err != nil || v.Dim() != len(emb) {
			continue
		}
		candidates = append(candidates, scored{*f, embedding.CosineDistance(emb, v.Values)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].dist < candidates[j].dist
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	faces := make([]catalog.Face, len(candidates))
	distances := make([]float64, len(candidates))
	for i, c := range candidates {
		faces[i] = c.face
		distances[i] = c.dist
	}
	return faces, distances, nil
}

func (s *Store) CountFaces(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.faces), nil
}

// --- persons ---

func (s *Store) InsertPerson(_ context.Context, p *catalog.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persons[p.ID]; ok {
		return fmt.Errorf("person %s already exists", p.ID)
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	cp := *p
	s.persons[p.ID] = &cp
	s.personOrd = append(s.personOrd, p.ID)
	return nil
}

func (s *Store) GetPerson(_ context.Context, id string) (*catalog.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) DeletePerson(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persons[id]; !ok {
		return fmt.Errorf("person: %w", catalog.ErrNotFound)
	}
	delete(s.persons, id)
	s.personOrd = removeID(s.personOrd, id)
	return nil
}

func (s *Store) DeleteAllPersons(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persons = make(map[string]*catalog.Person)
	s.personOrd = nil
	return nil
}

func (s *Store) UpdatePersonName(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok {
		return fmt.Errorf("person: %w", catalog.ErrNotFound)
	}
	p.Name = name
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdatePersonRepresentative(_ context.Context, id, faceID string, bestScore float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok {
		return fmt.Errorf("person: %w", catalog.ErrNotFound)
	}
	p.RepresentativeFaceID = faceID
	p.BestFaceScore = bestScore
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListPersons(_ context.Context, limit, offset int) ([]catalog.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Person
	for i := offset; i < len(s.personOrd) && len(out) < limit; i++ {
		out = append(out, *s.persons[s.personOrd[i]])
	}
	return out, nil
}

func (s *Store) AllPersons(_ context.Context) ([]catalog.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Person, 0, len(s.personOrd))
	for _, id := range s.personOrd {
		out = append(out, *s.persons[id])
	}
	return out, nil
}

func (s *Store) CountPersons(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.persons), nil
}

// --- folders ---

func (s *Store) EnsureFolderPath(_ context.Context, relPath string) (string, error) {
	relPath = strings.Trim(relPath, "/")
	if relPath == "." || relPath == "" {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parentID := ""
	current := ""
	for _, name := range strings.Split(relPath, "/") {
		current = current + "/" + name
		f, ok := s.folders[current]
		if !ok {
			f = &catalog.Folder{
				ID:        uuid.NewString(),
				Name:      name,
				ParentID:  parentID,
				Path:      current,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}
			s.folders[current] = f
			s.folderIDs[f.ID] = f
		}
		parentID = f.ID
	}
	return parentID, nil
}

func (s *Store) GetFolder(_ context.Context, id string) (*catalog.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folderIDs[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *Store) ListFolders(_ context.Context) ([]catalog.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) CountFolders(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.folders), nil
}

// --- misc ---

func (s *Store) TruncateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = make(map[string]*catalog.Image)
	s.imageOrder = nil
	s.faces = make(map[string]*catalog.Face)
	s.faceOrder = nil
	s.persons = make(map[string]*catalog.Person)
	s.personOrd = nil
	s.folders = make(map[string]*catalog.Folder)
	s.folderIDs = make(map[string]*catalog.Folder)
	return nil
}

func removeID(ids []string, id string) []string {
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}
