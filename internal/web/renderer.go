package web

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/vilaca/gh-finder/internal/search"
)

// Renderer writes pages and small JSON documents.
type Renderer interface {
	RenderPage(w io.Writer, data PageData) error
	RenderHealth(w io.Writer) error
}

// PageData is what the search page shows.
type PageData struct {
	State         search.State
	FollowEnabled bool
}

// HTMLRenderer renders the search page from an embedded template.
type HTMLRenderer struct {
	page *template.Template
}

// NewHTMLRenderer parses the page template.
func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{
		page: template.Must(template.New("page").Funcs(template.FuncMap{
			"json": toJSON,
		}).Parse(pageTemplate)),
	}
}

// RenderPage renders the full search page.
func (r *HTMLRenderer) RenderPage(w io.Writer, data PageData) error {
	if err := r.page.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	return nil
}

// RenderHealth writes the health document.
func (r *HTMLRenderer) RenderHealth(w io.Writer) error {
	_, err := w.Write([]byte(`{"status":"ok"}`))
	return err
}

func toJSON(v interface{}) (template.JS, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return template.JS(b), nil
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
	<title>GitHub User Finder</title>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<style>
		body { font-family: system-ui, -apple-system, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; color: #333; }
		.container { max-width: 720px; margin: 0 auto; }
		.card { background: white; padding: 20px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); margin-bottom: 20px; }
		.search { position: relative; }
		.search input[type=text] { width: 75%; padding: 8px; font-size: 16px; }
		.suggestions { list-style: none; margin: 0; padding: 0; border: 1px solid #e0e0e0; }
		.suggestions li button, .recent li button { background: none; border: none; cursor: pointer; padding: 6px; display: flex; align-items: center; gap: 8px; }
		.suggestions img { width: 24px; height: 24px; border-radius: 50%; }
		.recent { list-style: none; padding: 0; display: flex; gap: 8px; flex-wrap: wrap; }
		.profile img { width: 96px; height: 96px; border-radius: 50%; }
		.stats span { margin-right: 16px; }
		.toast { background: #c62828; color: white; padding: 10px 16px; border-radius: 4px; margin-bottom: 20px; }
		.loading { color: #666; }
		[hidden] { display: none !important; }
	</style>
</head>
<body>
	<div class="container">
		<h1>GitHub User Finder</h1>

		<div id="toast" class="toast"{{if not .State.Error}} hidden{{end}}>{{.State.Error}}</div>

		<div class="card search">
			<form id="search-form" method="post" action="/search">
				<input id="q" type="text" name="q" value="{{.State.Input}}" placeholder="Search GitHub users" autocomplete="off">
				<button type="submit">Search</button>
			</form>
			<ul id="suggestions" class="suggestions"{{if not .State.VisibleSuggestions}} hidden{{end}}>
				{{range .State.VisibleSuggestions}}
				<li>
					<form method="post" action="/select">
						<input type="hidden" name="login" value="{{.Login}}">
						<input type="hidden" name="source" value="suggestion">
						<button type="submit" data-login="{{.Login}}" data-source="suggestion"><img src="{{.AvatarURL}}" alt="">{{.Login}}</button>
					</form>
				</li>
				{{end}}
			</ul>
		</div>

		<div class="card">
			<h2>Recent searches</h2>
			<ul id="recent" class="recent">
				{{range .State.Recent}}
				<li>
					<form method="post" action="/select">
						<input type="hidden" name="login" value="{{.}}">
						<input type="hidden" name="source" value="history">
						<button type="submit" data-login="{{.}}" data-source="history">{{.}}</button>
					</form>
				</li>
				{{else}}
				<li class="loading">No recent searches</li>
				{{end}}
			</ul>
		</div>

		<div id="profile" class="card profile">
			<p id="loading" class="loading"{{if not .State.Loading}} hidden{{end}}>Loading...</p>
			{{with .State.Profile}}
			<img src="{{.AvatarURL}}" alt="{{.Login}}">
			<h2><a href="{{.HTMLURL}}">{{.DisplayName}}</a></h2>
			<p>@{{.Login}}{{if .Location}} · {{.Location}}{{end}}</p>
			{{if .Bio}}<p>{{.Bio}}</p>{{end}}
			<p class="stats">
				<span>{{.PublicRepos}} repos</span>
				<span>{{.Followers}} followers</span>
				<span>{{.Following}} following</span>
			</p>
			<p class="loading">Joined {{.CreatedAt.Format "January 2, 2006"}}</p>
			{{else}}
			<p class="loading">Search for a GitHub user to see their profile.</p>
			{{end}}
		</div>
	</div>

	<script>
	(function() {
		var state = {{json .State}};
		var followEnabled = {{.FollowEnabled}};
		var input = document.getElementById('q');
		var socket;
		var lastVersion = state.version || 0;

		function esc(s) {
			var d = document.createElement('div');
			d.textContent = s == null ? '' : String(s);
			return d.innerHTML;
		}

		function showToast(message) {
			var toast = document.getElementById('toast');
			toast.textContent = message;
			toast.hidden = false;
			clearTimeout(showToast.timer);
			showToast.timer = setTimeout(function() { toast.hidden = true; }, 4000);
		}

		function selectButton(login, source, avatar) {
			var img = avatar ? '<img src="' + esc(avatar) + '" alt="">' : '';
			return '<button type="button" data-login="' + esc(login) + '" data-source="' + source + '">' + img + esc(login) + '</button>';
		}

		function render(s) {
			var list = document.getElementById('suggestions');
			var visible = s.show_suggestions ? (s.suggestions || []) : [];
			list.innerHTML = visible.map(function(u) {
				return '<li>' + selectButton(u.login, 'suggestion', u.avatar_url) + '</li>';
			}).join('');
			list.hidden = visible.length === 0;

			var recent = document.getElementById('recent');
			recent.innerHTML = (s.recent || []).length === 0 ? '<li class="loading">No recent searches</li>' :
				s.recent.map(function(login) { return '<li>' + selectButton(login, 'history') + '</li>'; }).join('');

			var profile = document.getElementById('profile');
			var html = '<p id="loading" class="loading"' + (s.loading ? '' : ' hidden') + '>Loading...</p>';
			var p = s.profile;
			if (p) {
				html += '<img src="' + esc(p.avatar_url) + '" alt="' + esc(p.login) + '">' +
					'<h2><a href="' + esc(p.html_url) + '">' + esc(p.name || p.login) + '</a></h2>' +
					'<p>@' + esc(p.login) + (p.location ? ' · ' + esc(p.location) : '') + '</p>' +
					(p.bio ? '<p>' + esc(p.bio) + '</p>' : '') +
					'<p class="stats"><span>' + p.public_repos + ' repos</span><span>' + p.followers +
					' followers</span><span>' + p.following + ' following</span></p>';
				if (followEnabled) {
					html += '<button type="button" id="follow" data-login="' + esc(p.login) + '">Follow</button>';
				}
			} else {
				html += '<p class="loading">Search for a GitHub user to see their profile.</p>';
			}
			profile.innerHTML = html;
		}

		function send(msg) {
			if (socket && socket.readyState === WebSocket.OPEN) {
				socket.send(JSON.stringify(msg));
				return true;
			}
			return false;
		}

		function connect() {
			var scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
			socket = new WebSocket(scheme + location.host + '/ws');
			socket.onmessage = function(event) {
				var msg = JSON.parse(event.data);
				if (msg.type === 'state' && msg.state.version > lastVersion) {
					lastVersion = msg.state.version;
					render(msg.state);
				} else if (msg.type === 'toast') {
					showToast(msg.message);
				}
			};
			socket.onclose = function() { setTimeout(connect, 2000); };
		}

		input.addEventListener('input', function() { send({type: 'input', text: input.value}); });
		document.getElementById('search-form').addEventListener('submit', function(e) {
			if (send({type: 'input', text: input.value}) && send({type: 'submit'})) {
				e.preventDefault();
			}
		});
		document.addEventListener('click', function(e) {
			var button = e.target.closest('button[data-source]');
			if (button && send({type: 'select', login: button.dataset.login, source: button.dataset.source})) {
				e.preventDefault();
				input.value = button.dataset.login;
				return;
			}
			var follow = e.target.closest('#follow');
			if (follow) {
				fetch('/api/following/' + encodeURIComponent(follow.dataset.login), {method: 'PUT'})
					.then(function(r) { follow.textContent = r.ok ? 'Following' : 'Follow failed'; });
			}
		});
		document.addEventListener('mouseover', function(e) {
			var button = e.target.closest('button[data-source="history"]');
			if (button) {
				send({type: 'prefetch', login: button.dataset.login});
			}
		});

		{{if .State.Error}}showToast({{.State.Error}});{{end}}
		connect();
	})();
	</script>
</body>
</html>
`
