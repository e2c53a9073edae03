package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/verdantlab/verdant-core/internal/kit"
)

func TestCreateKit(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	creator := seedUser(t, env, "maria", "correct-horse-battery")
	token := loginToken(t, router, "maria", "correct-horse-battery")

	w := doJSON(t, router, http.MethodPost, "/api/v1/kits/", token, createKitRequest{
		Serial: "k-balcony-1",
		Name:   "Balcony kit",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create kit status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		kit.Kit
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Secret == "" {
		t.Error("expected the device secret in the create response")
	}
	if resp.ID == "" {
		t.Error("expected a generated kit id")
	}

	// The secret works for kit login
	lw := doJSON(t, router, http.MethodPost, "/api/v1/auth/kit-login", "",
		kitLoginRequest{Serial: "k-balcony-1", Secret: resp.Secret})
	if lw.Code != http.StatusOK {
		t.Errorf("kit login with issued secret status = %d", lw.Code)
	}

	// The creator is linked as the first member
	snap, err := env.kits.Snapshot(context.Background(), "k-balcony-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.IsMember(creator.ID) {
		t.Error("creator should be a member of the new kit")
	}
}

func TestCreateKit_DuplicateSerial(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedUser(t, env, "maria", "correct-horse-battery")
	seedKit(t, env, "k-balcony-1", "secret-abc", false)
	token := loginToken(t, router, "maria", "correct-horse-battery")

	w := doJSON(t, router, http.MethodPost, "/api/v1/kits/", token, createKitRequest{
		Serial: "k-balcony-1",
		Name:   "Duplicate",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("create kit status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestUpdateKit_PrivacyFlags(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedUser(t, env, "maria", "correct-horse-battery")
	k := seedKit(t, env, "k-balcony-1", "secret-abc", false)
	token := loginToken(t, router, "maria", "correct-horse-battery")

	public := true
	w := doJSON(t, router, http.MethodPatch, "/api/v1/kits/"+k.ID, token,
		updateKitRequest{PublicDashboard: &public})
	if w.Code != http.StatusOK {
		t.Fatalf("update kit status = %d, body = %s", w.Code, w.Body.String())
	}

	updated, err := env.kits.GetByID(context.Background(), k.ID)
	if err != nil {
		t.Fatalf("get kit: %v", err)
	}
	if !updated.PublicDashboard {
		t.Error("privacy_public_dashboard should be true after update")
	}
}

func TestDeleteKit(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedUser(t, env, "maria", "correct-horse-battery")
	k := seedKit(t, env, "k-balcony-1", "secret-abc", false)
	token := loginToken(t, router, "maria", "correct-horse-battery")

	w := doJSON(t, router, http.MethodDelete, "/api/v1/kits/"+k.ID, token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete kit status = %d", w.Code)
	}

	gw := doJSON(t, router, http.MethodGet, "/api/v1/kits/"+k.ID, token, nil)
	if gw.Code != http.StatusNotFound {
		t.Errorf("get deleted kit status = %d, want %d", gw.Code, http.StatusNotFound)
	}
}

func TestKitMap_OnlyOptedIn(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()

	seedKit(t, env, "k-hidden", "secret-abc", false)
	shown := seedKit(t, env, "k-shown", "secret-def", true)
	shown.ShowOnMap = true
	if err := env.kits.Update(context.Background(), shown); err != nil {
		t.Fatalf("update kit: %v", err)
	}

	// No auth header: the map is public
	w := doJSON(t, router, http.MethodGet, "/api/v1/kits/map", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("map status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Kits  []kit.Kit `json:"kits"`
		Count int       `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || len(resp.Kits) != 1 {
		t.Fatalf("map count = %d, want 1", resp.Count)
	}
	if resp.Kits[0].Serial != "k-shown" {
		t.Errorf("map kit = %q, want k-shown", resp.Kits[0].Serial)
	}
}

func TestMembershipLifecycle(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedUser(t, env, "maria", "correct-horse-battery")
	friend := seedUser(t, env, "jonas", "another-password-1")
	k := seedKit(t, env, "k-balcony-1", "secret-abc", false)
	token := loginToken(t, router, "maria", "correct-horse-battery")

	w := doJSON(t, router, http.MethodPost, "/api/v1/kits/"+k.ID+"/members/", token,
		addMemberRequest{UserID: friend.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("add member status = %d, body = %s", w.Code, w.Body.String())
	}

	// Duplicate link conflicts
	dw := doJSON(t, router, http.MethodPost, "/api/v1/kits/"+k.ID+"/members/", token,
		addMemberRequest{UserID: friend.ID})
	if dw.Code != http.StatusConflict {
		t.Errorf("duplicate member status = %d, want %d", dw.Code, http.StatusConflict)
	}

	lw := doJSON(t, router, http.MethodGet, "/api/v1/kits/"+k.ID+"/members/", token, nil)
	if lw.Code != http.StatusOK {
		t.Fatalf("list members status = %d", lw.Code)
	}
	var list struct {
		Members []string `json:"members"`
		Count   int      `json:"count"`
	}
	if err := json.Unmarshal(lw.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Count != 1 || list.Members[0] != friend.ID {
		t.Errorf("members = %v, want [%s]", list.Members, friend.ID)
	}

	rw := doJSON(t, router, http.MethodDelete, "/api/v1/kits/"+k.ID+"/members/"+friend.ID, token, nil)
	if rw.Code != http.StatusNoContent {
		t.Errorf("remove member status = %d", rw.Code)
	}
}

func TestPeripheralLifecycle(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedUser(t, env, "maria", "correct-horse-battery")
	k := seedKit(t, env, "k-balcony-1", "secret-abc", false)
	seedSensor(t, env, k.ID, "soil-moisture")
	token := loginToken(t, router, "maria", "correct-horse-battery")

	// A second peripheral of the same definition
	w := doJSON(t, router, http.MethodPost, "/api/v1/kits/"+k.ID+"/peripherals/", token,
		addPeripheralRequest{DefinitionID: "def-soil-moisture", Name: "soil-moisture-2"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add peripheral status = %d, body = %s", w.Code, w.Body.String())
	}
	var created kit.Peripheral
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	lw := doJSON(t, router, http.MethodGet, "/api/v1/kits/"+k.ID+"/peripherals/", token, nil)
	if lw.Code != http.StatusOK {
		t.Fatalf("list peripherals status = %d", lw.Code)
	}
	var list struct {
		Peripherals []kit.Peripheral `json:"peripherals"`
		Count       int              `json:"count"`
	}
	if err := json.Unmarshal(lw.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Count != 2 {
		t.Errorf("peripheral count = %d, want 2", list.Count)
	}

	rw := doJSON(t, router, http.MethodDelete, "/api/v1/kits/"+k.ID+"/peripherals/"+created.ID, token, nil)
	if rw.Code != http.StatusNoContent {
		t.Errorf("remove peripheral status = %d", rw.Code)
	}
}

func TestExperimentLifecycle(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedUser(t, env, "maria", "correct-horse-battery")
	k := seedKit(t, env, "k-balcony-1", "secret-abc", false)
	token := loginToken(t, router, "maria", "correct-horse-battery")

	// No open experiment yet
	nw := doJSON(t, router, http.MethodGet, "/api/v1/kits/"+k.ID+"/experiments/current", token, nil)
	if nw.Code != http.StatusNotFound {
		t.Errorf("current experiment status = %d, want %d", nw.Code, http.StatusNotFound)
	}

	sw := doJSON(t, router, http.MethodPost, "/api/v1/kits/"+k.ID+"/experiments/", token, nil)
	if sw.Code != http.StatusCreated {
		t.Fatalf("start experiment status = %d, body = %s", sw.Code, sw.Body.String())
	}
	var exp kit.Experiment
	if err := json.Unmarshal(sw.Body.Bytes(), &exp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	cw := doJSON(t, router, http.MethodGet, "/api/v1/kits/"+k.ID+"/experiments/current", token, nil)
	if cw.Code != http.StatusOK {
		t.Fatalf("current experiment status = %d", cw.Code)
	}

	ew := doJSON(t, router, http.MethodPost, "/api/v1/kits/"+k.ID+"/experiments/"+exp.ID+"/end", token, nil)
	if ew.Code != http.StatusNoContent {
		t.Fatalf("end experiment status = %d", ew.Code)
	}

	aw := doJSON(t, router, http.MethodGet, "/api/v1/kits/"+k.ID+"/experiments/current", token, nil)
	if aw.Code != http.StatusNotFound {
		t.Errorf("current experiment after end status = %d, want %d", aw.Code, http.StatusNotFound)
	}
}

func TestListCatalog(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedUser(t, env, "maria", "correct-horse-battery")
	k := seedKit(t, env, "k-balcony-1", "secret-abc", false)
	seedSensor(t, env, k.ID, "soil-moisture")
	token := loginToken(t, router, "maria", "correct-horse-battery")

	qw := doJSON(t, router, http.MethodGet, "/api/v1/quantity-types", token, nil)
	if qw.Code != http.StatusOK {
		t.Fatalf("quantity types status = %d", qw.Code)
	}
	var qresp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(qw.Body.Bytes(), &qresp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if qresp.Count != 1 {
		t.Errorf("quantity type count = %d, want 1", qresp.Count)
	}

	dw := doJSON(t, router, http.MethodGet, "/api/v1/peripheral-definitions", token, nil)
	if dw.Code != http.StatusOK {
		t.Fatalf("peripheral definitions status = %d", dw.Code)
	}
	var dresp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(dw.Body.Bytes(), &dresp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if dresp.Count != 1 {
		t.Errorf("peripheral definition count = %d, want 1", dresp.Count)
	}
}
