package remote

// clientHTML is the embedded HTML for the mobile web client
const clientHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0, maximum-scale=1.0, user-scalable=no, viewport-fit=cover">
    <meta name="mobile-web-app-capable" content="yes">
    <meta name="apple-mobile-web-app-capable" content="yes">
    <meta name="theme-color" content="#181825">
    <meta name="referrer" content="no-referrer">
    <title>Easy Talking - Remote</title>
    <style>
        :root {
            --bg-primary: #1e1e2e;
            --bg-secondary: #181825;
            --bg-surface: #313244;
            --text-primary: #cdd6f4;
            --text-muted: #6c7086;
            --accent: #89b4fa;
            --error: #f38ba8;
            --border: #45475a;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        html, body { height: 100%; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            display: flex;
            flex-direction: column;
        }
        header {
            display: flex;
            align-items: center;
            justify-content: space-between;
            padding: 12px 16px;
            background: var(--bg-secondary);
            border-bottom: 1px solid var(--border);
        }
        header h1 { font-size: 17px; font-weight: 600; }
        #status { font-size: 12px; color: var(--text-muted); }
        #status.error { color: var(--error); }
        button {
            background: var(--bg-surface);
            color: var(--text-primary);
            border: 1px solid var(--border);
            border-radius: 8px;
            padding: 8px 12px;
            font-size: 14px;
        }
        #messages {
            flex: 1;
            overflow-y: auto;
            padding: 12px 16px;
            display: flex;
            flex-direction: column;
            gap: 8px;
        }
        .bubble {
            max-width: 80%;
            padding: 8px 12px;
            border-radius: 14px;
            word-wrap: break-word;
            white-space: pre-wrap;
        }
        .bubble.user { align-self: flex-end; background: var(--accent); color: var(--bg-secondary); }
        .bubble.response { align-self: flex-start; background: var(--bg-surface); }
        form {
            display: flex;
            gap: 8px;
            padding: 12px 16px calc(12px + env(safe-area-inset-bottom));
            background: var(--bg-secondary);
            border-top: 1px solid var(--border);
        }
        input {
            flex: 1;
            background: var(--bg-primary);
            color: var(--text-primary);
            border: 1px solid var(--border);
            border-radius: 8px;
            padding: 10px;
            font-size: 16px;
        }
    </style>
</head>
<body>
    <header>
        <div>
            <h1>Easy Talking</h1>
            <div id="status">Connecting...</div>
        </div>
        <button id="langBtn" type="button">English</button>
    </header>
    <div id="messages"></div>
    <form id="composer">
        <input id="text" autocomplete="off" maxlength="2000" placeholder="Type a message">
        <button type="submit">Send</button>
    </form>
    <script>
        const params = new URLSearchParams(window.location.search);
        const token = params.get('token');
        const messagesEl = document.getElementById('messages');
        const statusEl = document.getElementById('status');
        const langBtn = document.getElementById('langBtn');
        const input = document.getElementById('text');
        let ws = null;
        let reconnectDelay = 1000;

        function setStatus(text, isError) {
            statusEl.textContent = text;
            statusEl.className = isError ? 'error' : '';
        }

        function renderHistory(messages) {
            messagesEl.innerHTML = '';
            for (const m of messages || []) {
                const div = document.createElement('div');
                div.className = 'bubble ' + m.sender;
                div.textContent = m.text;
                messagesEl.appendChild(div);
            }
            messagesEl.scrollTop = messagesEl.scrollHeight;
        }

        function send(msg) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(msg));
            }
        }

        function connect() {
            const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
            ws = new WebSocket(protocol + '//' + window.location.host + '/ws/chat?token=' + encodeURIComponent(token));

            ws.onopen = () => {
                reconnectDelay = 1000;
                setStatus('Connected', false);
            };
            ws.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                switch (msg.type) {
                    case 'history':
                        renderHistory(msg.messages);
                        langBtn.textContent = msg.language;
                        break;
                    case 'language':
                        langBtn.textContent = msg.language;
                        break;
                    case 'error':
                        setStatus(msg.message, true);
                        break;
                }
            };
            ws.onclose = () => {
                setStatus('Disconnected, retrying...', true);
                setTimeout(connect, reconnectDelay);
                reconnectDelay = Math.min(reconnectDelay * 2, 30000);
            };
        }

        document.getElementById('composer').addEventListener('submit', (e) => {
            e.preventDefault();
            send({ type: 'send', text: input.value });
            input.value = '';
        });
        langBtn.addEventListener('click', () => send({ type: 'toggleLanguage' }));
        setInterval(() => send({ type: 'ping' }), 25000);

        if (!token) {
            setStatus('Access token is required. Use the link from the app.', true);
        } else {
            connect();
        }
    </script>
</body>
</html>`
