package server

import "net/http"

const loginPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Joe</title></head>
<body>
<form method="post" action="/login">
  <input type="password" name="password" placeholder="Password" autofocus>
  <button type="submit">Log in</button>
</form>
</body></html>
`

// chatPage is a bare client for the /ws endpoint
const chatPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Joe</title></head>
<body>
<div id="log"></div>
<form id="f"><input id="q" autocomplete="off" autofocus><button>Send</button>
<button type="button" id="stop">Stop</button></form>
<script>
const log = document.getElementById("log");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (e) => {
  const f = JSON.parse(e.data);
  if (f.type === "message") {
    const p = document.createElement("p");
    p.textContent = f.message.role + ": " + f.message.content;
    log.appendChild(p);
  } else if (f.type === "state") {
    document.getElementById("stop").disabled = !f.busy;
  } else if (f.type === "notification") {
    console.warn(f.notification.title, f.notification.description);
  }
};
document.getElementById("f").onsubmit = (e) => {
  e.preventDefault();
  const q = document.getElementById("q");
  ws.send(JSON.stringify({type: "submit", text: q.value}));
  q.value = "";
};
document.getElementById("stop").onclick = () => ws.send(JSON.stringify({type: "stop"}));
</script>
</body></html>
`

func (s *Server) handleLoginPage(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, loginPage)
}

func (s *Server) handleChatPage(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, chatPage)
}

func writeHTML(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}
